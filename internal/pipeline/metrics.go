package pipeline

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"relaypoint/internal/types"
)

// MetricResult labels the Result dimension on delivery metrics.
type MetricResult string

const (
	MetricResultSuccess    MetricResult = "success"
	MetricResultFailed     MetricResult = "failed"
	MetricResultSuppressed MetricResult = "suppressed"
	MetricResultBatched    MetricResult = "batched"
)

// Metrics records pipeline observability signals. Emission failures are
// logged and swallowed; metrics never affect delivery outcomes.
type Metrics interface {
	RecordDelivery(ctx context.Context, channel types.ChannelType, result MetricResult)
	RecordLatency(ctx context.Context, channel types.ChannelType, duration time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
	RecordCriticalAlert(ctx context.Context, alertType types.AlertType)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchMetrics implements Metrics.
var _ Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics implements the Metrics interface by emitting metric data
// to AWS CloudWatch.
//
// Metrics emitted:
//   - DeliveryAttempt: Dims {Channel, Result} on every delivery outcome
//   - DeliveryAttemptLatency: Dims {Channel} for time taken per delivery
//   - NotificationQueueLag: no dims, time between enqueue and processing start
//   - CriticalAlertRaised: Dims {AlertType} on every detector alert
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics that publishes to the
// service metric namespace.
func NewCloudWatchMetrics(client CloudWatchClient, logger types.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

// RecordDelivery emits a DeliveryAttempt metric with Channel and Result dimensions.
func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, channel types.ChannelType, result MetricResult) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricDeliveryAttempt),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(types.DimChannel),
						Value: aws.String(string(channel)),
					},
					{
						Name:  aws.String(types.DimResult),
						Value: aws.String(string(result)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record delivery metric",
			"error", err.Error(),
			"channel", string(channel),
			"result", string(result),
		)
	}
}

// RecordLatency emits a delivery latency metric with the Channel dimension.
// Duration is recorded in milliseconds for CloudWatch precision.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, channel types.ChannelType, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricDeliveryLatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(types.DimChannel),
						Value: aws.String(string(channel)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record latency metric",
			"error", err.Error(),
			"channel", string(channel),
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// RecordQueueLag emits a metric tracking the time between SQS message
// enqueue and worker processing start. This measures the end-to-end queue
// delay including retry delays and any backlog.
func (m *CloudWatchMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricQueueLag),
				Value:      aws.Float64(float64(lag.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record queue lag metric",
			"error", err.Error(),
			"lag_ms", lag.Milliseconds(),
		)
	}
}

// RecordCriticalAlert emits a count metric with the AlertType dimension
// whenever the failure detector raises an alert.
func (m *CloudWatchMetrics) RecordCriticalAlert(ctx context.Context, alertType types.AlertType) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricCriticalAlert),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(types.DimAlertType),
						Value: aws.String(string(alertType)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record critical alert metric",
			"error", err.Error(),
			"alert_type", string(alertType),
		)
	}
}

// NopMetrics discards all metric emissions. Useful for local development
// and tests that do not assert on metrics.
type NopMetrics struct{}

var _ Metrics = NopMetrics{}

func (NopMetrics) RecordDelivery(context.Context, types.ChannelType, MetricResult) {}
func (NopMetrics) RecordLatency(context.Context, types.ChannelType, time.Duration) {}
func (NopMetrics) RecordQueueLag(context.Context, time.Duration)                   {}
func (NopMetrics) RecordCriticalAlert(context.Context, types.AlertType)            {}
