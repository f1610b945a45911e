package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"relaypoint/internal/resilience"
	"relaypoint/internal/types"
)

// Pipeline runs an inbound notification event through the full decision
// sequence: validation, preference and quiet-hours filtering, frequency
// batching, template selection and rendering, resilient delivery with
// channel fallback, history recording, and origin status propagation.
//
// Process returns a non-nil error only for transient infrastructure
// failures (store or queue outages) where the caller should let the queue
// redeliver the message. Every business decision, including exhausted
// delivery retries, terminates with an Outcome and a nil error.
type Pipeline struct {
	prefs      PreferenceStore
	templates  TemplateStore
	history    HistoryStore
	origin     OriginUpdater
	transports map[types.ChannelType]Transport
	breakers   *resilience.Registry
	metrics    Metrics
	validate   *validator.Validate
	clock      types.Clock
	logger     types.Logger
	cfg        Config
}

// New wires a Pipeline. The breaker registry is shared process-wide so
// circuit state accumulates across invocations; transports are keyed by the
// channel they serve. The webhook transport is the primary for users with a
// webhook URL, with broadcast as the fallback.
func New(
	prefs PreferenceStore,
	templates TemplateStore,
	history HistoryStore,
	origin OriginUpdater,
	transports []Transport,
	breakers *resilience.Registry,
	metrics Metrics,
	clock types.Clock,
	logger types.Logger,
	cfg Config,
) *Pipeline {
	byChannel := make(map[types.ChannelType]Transport, len(transports))
	for _, t := range transports {
		byChannel[t.Channel()] = t
	}
	return &Pipeline{
		prefs:      prefs,
		templates:  templates,
		history:    history,
		origin:     origin,
		transports: byChannel,
		breakers:   breakers,
		metrics:    metrics,
		validate:   validator.New(),
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
	}
}

// AttemptID builds the deterministic idempotency key for one (event, channel)
// delivery. Reprocessing a duplicate queue message produces the same ID and
// collides with the prior attempt record instead of double-sending.
func AttemptID(eventID string, channel types.ChannelType) string {
	return fmt.Sprintf("att_%s_%s", eventID, channel)
}

// Process runs one event through the pipeline and returns its terminal outcome.
func (p *Pipeline) Process(ctx context.Context, msg types.EventMessage) (*Outcome, error) {
	started := p.clock.Now()
	event := msg.NotificationEvent

	// Prefer the worker's message-scoped logger when one rode in on the
	// context, so pipeline logs carry the message ID and trace ID.
	base := p.logger
	if l := types.LoggerFromContext(ctx); l != nil {
		base = l
	}
	logger := base.With(
		"event_id", event.EventID,
		"event_type", string(event.EventType),
		"user_id", event.UserID,
	)
	if rid := types.GetRequestID(ctx); rid != "" {
		logger = logger.With("request_id", rid)
	}

	if err := p.validate.Struct(&event); err != nil {
		logger.Warn("rejecting malformed event", "error", err.Error())
		return p.finish(ctx, &event, types.ChannelType(""), &Outcome{
			Decision: DecisionFailed,
			Reason:   types.ReasonMalformed,
		}, started, logger)
	}
	if !types.KnownEventTypes[event.EventType] {
		logger.Warn("rejecting event with unknown type")
		out := &Outcome{Decision: DecisionFailed, Reason: types.ReasonUnknownEventType}
		if err := p.record(ctx, &event, types.ChannelType(""), out, logger); err != nil {
			return nil, err
		}
		return p.finish(ctx, &event, types.ChannelType(""), out, started, logger)
	}

	prefs, err := p.prefs.Get(ctx, event.UserID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "loading user preferences", err)
	}

	channel := p.resolveChannel(&event, prefs)
	logger = logger.With("channel", string(channel))

	// Critical alerts skip preference, quiet-hours, and frequency filtering
	// unless the user has opted out of the bypass.
	bypass := event.EventType == types.EventCriticalAlert && prefs.CriticalAlertsBypassPrefs
	if bypass {
		logger.Info("critical alert bypassing preference filters")
	}

	if !bypass {
		if out, err := p.filter(ctx, &event, prefs, channel, logger); out != nil || err != nil {
			if err != nil {
				return nil, err
			}
			if err := p.record(ctx, &event, channel, out, logger); err != nil {
				return nil, err
			}
			return p.finish(ctx, &event, channel, out, started, logger)
		}
	}

	tmpl, err := p.selectTemplate(ctx, event.EventType, channel)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		logger.Warn("no template configured for event type")
		out := &Outcome{Decision: DecisionFailed, Reason: types.ReasonTemplateMissing, Channel: channel}
		if err := p.record(ctx, &event, channel, out, logger); err != nil {
			return nil, err
		}
		return p.finish(ctx, &event, channel, out, started, logger)
	}

	content := Render(tmpl, event.Context)

	out, err := p.deliver(ctx, &event, prefs, channel, content, logger)
	if err != nil {
		return nil, err
	}
	return p.finish(ctx, &event, out.Channel, out, started, logger)
}

// resolveChannel picks the delivery channel: an explicit hint on the event
// wins, then webhook when the user has a URL configured, then broadcast.
func (p *Pipeline) resolveChannel(event *types.NotificationEvent, prefs *types.UserPreferences) types.ChannelType {
	if event.ChannelHint != "" {
		return event.ChannelHint
	}
	if prefs.ContactInfo.WebhookURL != "" {
		return types.ChannelWebhook
	}
	return types.ChannelBroadcast
}

// filter applies the preference, quiet-hours, and frequency stages. It
// returns a terminal Outcome when the event is suppressed or batched, or
// (nil, nil) when delivery should proceed.
func (p *Pipeline) filter(ctx context.Context, event *types.NotificationEvent, prefs *types.UserPreferences, channel types.ChannelType, logger types.Logger) (*Outcome, error) {
	if !prefs.ChannelEnabled(channel) {
		logger.Info("suppressing notification, channel disabled by preference")
		return &Outcome{Decision: DecisionSuppressed, Reason: types.ReasonPreferenceDisabled, Channel: channel}, nil
	}

	if inQuietHours(prefs.QuietHours, p.clock.Now(), logger) {
		logger.Info("suppressing notification during quiet hours")
		return &Outcome{Decision: DecisionSuppressed, Reason: types.ReasonQuietHours, Channel: channel}, nil
	}

	limit := prefs.FrequencyLimitFor(event.EventType, p.cfg.DefaultFrequencyLimit)
	if limit.MaxPerWindow > 0 {
		since := p.clock.Now().Add(-time.Duration(limit.WindowMinutes) * time.Minute)
		sent, err := p.history.CountSentSince(ctx, event.UserID, event.EventType, since)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "counting recent deliveries", err)
		}
		if sent >= limit.MaxPerWindow {
			logger.Info("batching notification, frequency limit reached",
				"sent_in_window", sent,
				"max_per_window", limit.MaxPerWindow,
			)
			return &Outcome{Decision: DecisionBatched, Reason: types.ReasonFrequencyExceeded, Channel: channel}, nil
		}
	}

	return nil, nil
}

// selectTemplate resolves the exact (event type, channel) template, falling
// back to the channel's default row. (nil, nil) means neither exists.
func (p *Pipeline) selectTemplate(ctx context.Context, eventType types.EventType, channel types.ChannelType) (*types.NotificationTemplate, error) {
	tmpl, err := p.templates.Get(ctx, eventType, channel)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "loading notification template", err)
	}
	if tmpl != nil {
		return tmpl, nil
	}
	tmpl, err = p.templates.Get(ctx, types.EventTypeDefault, channel)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "loading default template", err)
	}
	return tmpl, nil
}

// deliver sends through the resolved channel with retry and circuit
// breaking, falling back from webhook to broadcast when the primary
// exhausts its attempts. Each attempt, including the fallback, gets its own
// audit record.
func (p *Pipeline) deliver(ctx context.Context, event *types.NotificationEvent, prefs *types.UserPreferences, channel types.ChannelType, content types.RenderedContent, logger types.Logger) (*Outcome, error) {
	out, dup, err := p.sendOnce(ctx, event, prefs, channel, content, types.ChannelType(""), logger)
	if err != nil || dup || out.Decision == DecisionDelivered {
		return out, err
	}

	if channel == types.ChannelWebhook {
		if _, ok := p.transports[types.ChannelBroadcast]; ok {
			logger.Warn("webhook delivery failed, falling back to broadcast", "reason", out.Reason)
			fbOut, _, err := p.sendOnce(ctx, event, prefs, types.ChannelBroadcast, content, types.ChannelWebhook, logger)
			if err != nil {
				return nil, err
			}
			fbOut.FallbackUsed = true
			return fbOut, nil
		}
	}

	return out, nil
}

// sendOnce performs one channel's delivery under the resilience kernel. The
// returned dup flag is true when a prior attempt already sent this event on
// this channel and nothing was transmitted.
func (p *Pipeline) sendOnce(ctx context.Context, event *types.NotificationEvent, prefs *types.UserPreferences, channel types.ChannelType, content types.RenderedContent, fallbackFrom types.ChannelType, logger types.Logger) (*Outcome, bool, error) {
	transport, ok := p.transports[channel]
	if !ok {
		logger.Error("no transport registered for channel", "channel", string(channel))
		return &Outcome{
			Decision: DecisionFailed,
			Reason:   string(types.ErrCodeInternalUnexpected),
			Channel:  channel,
		}, false, nil
	}

	attempt := &types.DeliveryAttempt{
		AttemptID:    AttemptID(event.EventID, channel),
		EventID:      event.EventID,
		UserID:       event.UserID,
		EventType:    event.EventType,
		Channel:      channel,
		Status:       types.AttemptStatusQueued,
		FallbackFrom: fallbackFrom,
		Timestamp:    p.clock.Now(),
	}
	created, err := p.history.InsertIfAbsent(ctx, attempt)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "recording delivery attempt", err)
	}
	if !created {
		prior, err := p.history.Get(ctx, attempt.AttemptID)
		if err != nil {
			return nil, false, types.NewAppError(types.ErrCodeInternalDB, "loading prior delivery attempt", err)
		}
		if prior != nil && prior.Status == types.AttemptStatusSent {
			logger.Info("skipping duplicate delivery, event already sent on channel")
			return &Outcome{
				Decision: DecisionDelivered,
				Reason:   types.ReasonAlreadyDelivered,
				Channel:  channel,
			}, true, nil
		}
		// A prior non-terminal attempt (queued or failed) is retried.
	}

	recipient := p.recipientFor(prefs, channel)
	policy, ok := p.cfg.RetryPolicies[channel]
	if !ok {
		policy = resilience.WebhookRetryPolicy
	}

	msgID, sendErr := resilience.Call(ctx, p.breakers, string(channel), policy, func(ctx context.Context) (string, error) {
		return transport.Send(ctx, recipient, content, event)
	})
	if sendErr != nil {
		reason := string(types.CodeOf(sendErr))
		var exhausted *resilience.ExhaustedRetriesError
		if errors.As(sendErr, &exhausted) {
			reason = string(types.ErrCodeExhaustedRetries)
		}
		logger.Error("delivery failed on channel",
			"error", sendErr.Error(),
			"reason", reason,
		)
		if err := p.history.UpdateStatus(ctx, attempt.AttemptID, types.AttemptStatusFailed, sendErr.Error()); err != nil {
			logger.Error("failed to update attempt status", "error", err.Error())
		}
		return &Outcome{
			Decision: DecisionFailed,
			Reason:   reason,
			Channel:  channel,
		}, false, nil
	}

	logger.Info("notification delivered", "provider_message_id", msgID)
	if err := p.history.UpdateStatus(ctx, attempt.AttemptID, types.AttemptStatusSent, ""); err != nil {
		logger.Error("failed to update attempt status", "error", err.Error())
	}
	return &Outcome{Decision: DecisionDelivered, Channel: channel}, false, nil
}

func (p *Pipeline) recipientFor(prefs *types.UserPreferences, channel types.ChannelType) string {
	switch channel {
	case types.ChannelWebhook:
		return prefs.ContactInfo.WebhookURL
	case types.ChannelEmail:
		return prefs.ContactInfo.Email
	default:
		// Broadcast and in-app notifications are addressed by user ID.
		return prefs.UserID
	}
}

// record writes an audit entry for decisions that terminate before the
// delivery stage (suppressed, batched, unknown type, missing template).
func (p *Pipeline) record(ctx context.Context, event *types.NotificationEvent, channel types.ChannelType, out *Outcome, logger types.Logger) error {
	attempt := &types.DeliveryAttempt{
		AttemptID: AttemptID(event.EventID, channel),
		EventID:   event.EventID,
		UserID:    event.UserID,
		EventType: event.EventType,
		Channel:   channel,
		Status:    out.Decision.AttemptStatus(),
		Reason:    out.Reason,
		Timestamp: p.clock.Now(),
	}
	created, err := p.history.InsertIfAbsent(ctx, attempt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "recording pipeline decision", err)
	}
	if !created {
		logger.Info("decision already recorded for event on channel")
	}
	return nil
}

// finish emits metrics and propagates the terminal status to the event's
// origin record. Origin update failures are logged, not surfaced; the
// notification outcome is already decided.
func (p *Pipeline) finish(ctx context.Context, event *types.NotificationEvent, channel types.ChannelType, out *Outcome, started time.Time, logger types.Logger) (*Outcome, error) {
	p.metrics.RecordDelivery(ctx, channel, resultFor(out))
	p.metrics.RecordLatency(ctx, channel, p.clock.Now().Sub(started))

	if event.EventID != "" && out.Reason != types.ReasonMalformed {
		if err := p.origin.UpdateNotificationStatus(ctx, event, out.Decision.AttemptStatus()); err != nil {
			logger.Error("failed to update origin notification status", "error", err.Error())
		}
	}

	logger.Info("pipeline finished",
		"decision", string(out.Decision),
		"reason", out.Reason,
		"fallback_used", out.FallbackUsed,
	)
	return out, nil
}

func resultFor(out *Outcome) MetricResult {
	switch out.Decision {
	case DecisionDelivered:
		return MetricResultSuccess
	case DecisionSuppressed:
		return MetricResultSuppressed
	case DecisionBatched:
		return MetricResultBatched
	default:
		return MetricResultFailed
	}
}
