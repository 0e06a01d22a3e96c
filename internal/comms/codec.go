// Package comms implements the backend bridge over a serial or TCP link to
// the drone's field device: framed CBOR messages, per-request acknowledgment
// retries, and outcome events published on the bus.
package comms

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MessageType discriminates wire messages. Encoded as the first element of a
// two-element CBOR array [type, payload].
type MessageType uint8

const (
	MsgSyncRequest MessageType = iota + 1
	MsgSyncResponse
	MsgConfigRequest
	MsgConfigResponse
	MsgStartRequest
	MsgStartResponse
	MsgStopRequest
	MsgStopResponse
	MsgGPSData
	MsgPingData
	MsgLocEstData
	MsgError
)

func (m MessageType) String() string {
	switch m {
	case MsgSyncRequest:
		return "sync_request"
	case MsgSyncResponse:
		return "sync_response"
	case MsgConfigRequest:
		return "config_request"
	case MsgConfigResponse:
		return "config_response"
	case MsgStartRequest:
		return "start_request"
	case MsgStartResponse:
		return "start_response"
	case MsgStopRequest:
		return "stop_request"
	case MsgStopResponse:
		return "stop_response"
	case MsgGPSData:
		return "gps_data"
	case MsgPingData:
		return "ping_data"
	case MsgLocEstData:
		return "loc_est_data"
	case MsgError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

type envelope struct {
	_       struct{} `cbor:",toarray"`
	Type    uint8
	Payload cbor.RawMessage
}

// header carries the fields every payload shares: a monotonically increasing
// packet id and the sender's clock in microseconds.
type header struct {
	PacketID    uint32 `cbor:"1,keyasint"`
	TimestampUS int64  `cbor:"2,keyasint"`
}

// bareRequestPayload covers start and stop requests, which carry nothing
// beyond the shared header.
type bareRequestPayload struct {
	header
}

type syncRequestPayload struct {
	header
	AckTimeoutMS int `cbor:"3,keyasint"`
	MaxRetries   int `cbor:"4,keyasint"`
}

// responsePayload answers sync, config, start and stop requests.
type responsePayload struct {
	header
	Success bool   `cbor:"3,keyasint"`
	Message string `cbor:"4,keyasint,omitempty"`
}

type configRequestPayload struct {
	header
	Gain              float64  `cbor:"3,keyasint"`
	SamplingRate      int      `cbor:"4,keyasint"`
	CenterFrequency   int      `cbor:"5,keyasint"`
	RunNum            int64    `cbor:"6,keyasint"`
	EnableTestData    bool     `cbor:"7,keyasint"`
	PingWidthMS       int      `cbor:"8,keyasint"`
	PingMinSNR        int      `cbor:"9,keyasint"`
	PingMaxLenMult    float64  `cbor:"10,keyasint"`
	PingMinLenMult    float64  `cbor:"11,keyasint"`
	TargetFrequencies []uint32 `cbor:"12,keyasint"`
}

type gpsPayload struct {
	header
	Lat      float64 `cbor:"3,keyasint"`
	Long     float64 `cbor:"4,keyasint"`
	Altitude float64 `cbor:"5,keyasint"`
	Heading  float64 `cbor:"6,keyasint"`
}

type pingPayload struct {
	header
	Frequency uint32  `cbor:"3,keyasint"`
	Amplitude float64 `cbor:"4,keyasint"`
	Lat       float64 `cbor:"5,keyasint"`
	Long      float64 `cbor:"6,keyasint"`
}

type locEstPayload struct {
	header
	Frequency uint32  `cbor:"3,keyasint"`
	Lat       float64 `cbor:"4,keyasint"`
	Long      float64 `cbor:"5,keyasint"`
}

type errorPayload struct {
	header
	Message string `cbor:"3,keyasint"`
	Fatal   bool   `cbor:"4,keyasint"`
}

func encodeMessage(msgType MessageType, payload any) ([]byte, error) {
	raw, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}

	data, err := cbor.Marshal(envelope{Type: uint8(msgType), Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", msgType, err)
	}

	return data, nil
}

func decodeMessage(data []byte) (MessageType, cbor.RawMessage, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty message")
	}

	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return 0, nil, fmt.Errorf("decode envelope: %w", err)
	}

	return MessageType(env.Type), env.Payload, nil
}

func decodePayload[T any](msgType MessageType, raw cbor.RawMessage) (T, error) {
	var payload T
	if err := cbor.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", msgType, err)
	}

	return payload, nil
}
