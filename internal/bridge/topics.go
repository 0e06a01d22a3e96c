package bridge

// Bus topics emitted by backend bridge implementations. One topic per named
// backend event channel; success/failure carry an Event payload, timeout
// topics carry an empty Event.
const (
	TopicSyncSuccess = "sync.success"
	TopicSyncFailure = "sync.failure"
	TopicSyncTimeout = "sync.timeout"

	TopicConfigSuccess = "config.success"
	TopicConfigFailure = "config.failure"
	TopicConfigTimeout = "config.timeout"

	TopicStartSuccess = "start.success"
	TopicStartFailure = "start.failure"
	TopicStartTimeout = "start.timeout"

	TopicStopSuccess = "stop.success"
	TopicStopFailure = "stop.failure"
	TopicStopTimeout = "stop.timeout"

	TopicDisconnectSuccess = "disconnect.success"
	TopicDisconnectFailure = "disconnect.failure"

	// TopicStatusPacket is the continuous per-packet stream feeding the link
	// quality estimator. Emitted for every inbound packet that carries a
	// producer timestamp, independent of lifecycle phase.
	TopicStatusPacket = "status.packet"

	// Decoded telemetry streams consumed by the telemetry manager.
	TopicGPSData          = "telemetry.gps"
	TopicPingData         = "telemetry.ping"
	TopicLocationEstimate = "telemetry.locest"
)
