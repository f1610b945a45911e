package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func assertDimension(t *testing.T, dims []cwtypes.Dimension, name, value string) {
	t.Helper()
	for _, d := range dims {
		if *d.Name == name {
			assert.Equal(t, value, *d.Value)
			return
		}
	}
	t.Errorf("dimension %q not found", name)
}

func TestCloudWatchMetrics_RecordDelivery(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, nopLogger{})

	metrics.RecordDelivery(context.Background(), types.ChannelWebhook, MetricResultSuccess)

	require.Len(t, cw.calls, 1)
	input := cw.calls[0]
	assert.Equal(t, types.MetricNamespace, *input.Namespace)
	require.Len(t, input.MetricData, 1)

	datum := input.MetricData[0]
	assert.Equal(t, types.MetricDeliveryAttempt, *datum.MetricName)
	assert.Equal(t, 1.0, *datum.Value)
	assert.Equal(t, cwtypes.StandardUnitCount, datum.Unit)
	assertDimension(t, datum.Dimensions, types.DimChannel, string(types.ChannelWebhook))
	assertDimension(t, datum.Dimensions, types.DimResult, string(MetricResultSuccess))
}

func TestCloudWatchMetrics_RecordLatencyInMilliseconds(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, nopLogger{})

	metrics.RecordLatency(context.Background(), types.ChannelBroadcast, 1500*time.Millisecond)

	require.Len(t, cw.calls, 1)
	datum := cw.calls[0].MetricData[0]
	assert.Equal(t, types.MetricDeliveryLatency, *datum.MetricName)
	assert.Equal(t, 1500.0, *datum.Value)
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, datum.Unit)
	assertDimension(t, datum.Dimensions, types.DimChannel, string(types.ChannelBroadcast))
}

func TestCloudWatchMetrics_RecordQueueLag(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, nopLogger{})

	metrics.RecordQueueLag(context.Background(), 4*time.Second)

	require.Len(t, cw.calls, 1)
	datum := cw.calls[0].MetricData[0]
	assert.Equal(t, types.MetricQueueLag, *datum.MetricName)
	assert.Equal(t, 4000.0, *datum.Value)
	assert.Empty(t, datum.Dimensions)
}

func TestCloudWatchMetrics_RecordCriticalAlert(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, nopLogger{})

	metrics.RecordCriticalAlert(context.Background(), types.AlertConsecutiveFailures)

	require.Len(t, cw.calls, 1)
	datum := cw.calls[0].MetricData[0]
	assert.Equal(t, types.MetricCriticalAlert, *datum.MetricName)
	assertDimension(t, datum.Dimensions, types.DimAlertType, string(types.AlertConsecutiveFailures))
}

func TestCloudWatchMetrics_EmissionFailureIsSwallowed(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	metrics := NewCloudWatchMetrics(cw, nopLogger{})

	// Must not panic or propagate.
	metrics.RecordDelivery(context.Background(), types.ChannelWebhook, MetricResultFailed)
	metrics.RecordQueueLag(context.Background(), time.Second)

	assert.Len(t, cw.calls, 2)
}
