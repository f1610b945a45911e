package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"relaypoint/internal/security"
	"relaypoint/internal/types"
)

// maxResponseBodyRead limits how much of a response body is read for error
// messages.
const maxResponseBodyRead = 4096

// Options configures the webhook channel.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
}

// payload is the JSON body POSTed to the user's endpoint.
type payload struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	ProjectID string         `json:"project_id,omitempty"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Context   map[string]any `json:"context,omitempty"`
	SentAt    string         `json:"sent_at"`
}

// Channel delivers notifications by POSTing signed JSON payloads to the
// user's webhook URL through an SSRF-safe HTTP client.
type Channel struct {
	httpClient *http.Client
	signer     *Signer
	userAgent  string
	clock      types.Clock
	logger     types.Logger
}

// New creates a webhook Channel with an SSRF-safe HTTP client.
func New(opts Options, signer *Signer, logger types.Logger) (*Channel, error) {
	if signer == nil {
		return nil, fmt.Errorf("webhook channel: signer is nil")
	}
	httpClient, err := security.NewSafeHTTPClient(opts.Timeout, opts.MaxRedirects)
	if err != nil {
		return nil, fmt.Errorf("webhook channel: building safe HTTP client: %w", err)
	}
	return NewWithClient(opts, signer, httpClient, logger), nil
}

// NewWithClient creates a Channel with a caller-supplied HTTP client.
// This constructor exists for testing against httptest servers.
func NewWithClient(opts Options, signer *Signer, httpClient *http.Client, logger types.Logger) *Channel {
	return &Channel{
		httpClient: httpClient,
		signer:     signer,
		userAgent:  opts.UserAgent,
		clock:      types.RealClock{},
		logger:     logger,
	}
}

// SetClock overrides the clock for testing.
func (c *Channel) SetClock(clock types.Clock) {
	c.clock = clock
}

// Channel returns the channel type identifier.
func (c *Channel) Channel() types.ChannelType {
	return types.ChannelWebhook
}

// ValidateURL checks a webhook destination before it is accepted: it must
// parse, use HTTPS, and not point at a blocked address range.
func ValidateURL(ctx context.Context, rawURL string) error {
	if !strings.HasPrefix(strings.ToLower(rawURL), "https://") {
		return fmt.Errorf("webhook channel: url must use HTTPS")
	}
	bl, err := security.NewBlocklist(nil)
	if err != nil {
		return err
	}
	return bl.CheckURL(ctx, rawURL)
}

// Send POSTs the rendered content to the recipient URL with signature
// headers. Failures are classified into transport error codes so the
// resilience kernel can decide retryability:
//
//   - network timeout:        transport_timeout (retryable)
//   - 5xx:                    transport_server_error (retryable)
//   - 429:                    transport_rate_limited (retryable)
//   - other 4xx, SSRF block:  transport_permanent_rejection (not retried)
func (c *Channel) Send(ctx context.Context, recipient string, content types.RenderedContent, event *types.NotificationEvent) (string, error) {
	body, err := json.Marshal(payload{
		EventID:   event.EventID,
		EventType: string(event.EventType),
		ProjectID: event.ProjectID,
		Subject:   content.Subject,
		Body:      content.Body,
		Context:   event.Context,
		SentAt:    c.clock.Now().Format(time.RFC3339),
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "encoding webhook payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeTransportRejected, "building webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(SignatureHeader, c.signer.Sign(body, c.clock.Now()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyNetworkError(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))
	return classifyResponse(resp.StatusCode, respBody, event.EventID)
}

// classifyNetworkError maps transport-level failures. SSRF blocks are
// permanent: retrying a blocked address will never succeed.
func classifyNetworkError(err error) error {
	if errors.Is(err, security.ErrBlockedAddress) || errors.Is(err, security.ErrTooManyRedirects) {
		return types.NewAppError(types.ErrCodeTransportRejected, "webhook destination blocked", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewAppError(types.ErrCodeTransportTimeout, "webhook request timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewAppError(types.ErrCodeTransportTimeout, "webhook request timed out", err)
	}
	// DNS failures and connection resets are treated as transient.
	return types.NewAppError(types.ErrCodeTransportServer, "webhook request failed", err)
}

func classifyResponse(status int, body []byte, eventID string) (string, error) {
	switch {
	case status >= 200 && status < 300:
		return fmt.Sprintf("wh_%s_%d", eventID, status), nil

	case status == http.StatusTooManyRequests:
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeTransportRateLimit,
			"webhook endpoint rate limited the request",
			nil,
			map[string]any{"status": status},
		)

	case status >= 400 && status < 500:
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeTransportRejected,
			fmt.Sprintf("webhook endpoint rejected the request with status %d", status),
			nil,
			map[string]any{"status": status, "body": string(body)},
		)

	default:
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeTransportServer,
			fmt.Sprintf("webhook endpoint returned status %d", status),
			nil,
			map[string]any{"status": status},
		)
	}
}
