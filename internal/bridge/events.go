package bridge

import "time"

// Event is the payload published on outcome topics. Timeout events carry an
// empty message.
type Event struct {
	Message string
}

// StatusPacket is one inbound packet observed by the backend bridge.
// TimestampUS is in the producer's clock domain (microseconds); ReceivedAt is
// local wall clock at decode time.
type StatusPacket struct {
	PacketID    uint32
	TimestampUS int64
	ReceivedAt  time.Time
}
