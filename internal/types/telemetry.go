package types

// CloudWatch metric names and dimensions for the notification pipeline.
// Names are stable; dashboards and alarms reference them directly.
const (
	// MetricDeliveryAttempt counts every delivery outcome, dimensioned by
	// channel and result.
	MetricDeliveryAttempt = "DeliveryAttempt"

	// MetricDeliveryLatency is the wall-clock duration of a delivery
	// attempt in milliseconds, dimensioned by channel.
	MetricDeliveryLatency = "DeliveryLatency"

	// MetricQueueLag is the time between message enqueue and processing
	// start in milliseconds.
	MetricQueueLag = "NotificationQueueLag"

	// MetricCriticalAlert counts alerts emitted by the failure detector,
	// dimensioned by alert type.
	MetricCriticalAlert = "CriticalAlertEmitted"

	DimChannel   = "Channel"
	DimResult    = "Result"
	DimAlertType = "AlertType"

	// MetricNamespace is the CloudWatch namespace for all pipeline metrics.
	MetricNamespace = "Relaypoint"
)
