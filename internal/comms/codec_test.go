package comms

import (
	"testing"
	"time"
)

func TestConfigRequestRoundTrip(t *testing.T) {
	want := configRequestPayload{
		header:            header{PacketID: 42, TimestampUS: time.Now().UnixMicro()},
		Gain:              56.0,
		SamplingRate:      2500000,
		CenterFrequency:   173500000,
		RunNum:            1718000000,
		EnableTestData:    false,
		PingWidthMS:       25,
		PingMinSNR:        25,
		PingMaxLenMult:    1.5,
		PingMinLenMult:    0.75,
		TargetFrequencies: []uint32{173043000, 173963000},
	}

	data, err := encodeMessage(MsgConfigRequest, want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msgType, raw, err := decodeMessage(data)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if msgType != MsgConfigRequest {
		t.Fatalf("message type: got %v want %v", msgType, MsgConfigRequest)
	}

	got, err := decodePayload[configRequestPayload](msgType, raw)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.PacketID != want.PacketID || got.CenterFrequency != want.CenterFrequency {
		t.Fatalf("payload mismatch: got %+v want %+v", got, want)
	}
	if len(got.TargetFrequencies) != 2 || got.TargetFrequencies[0] != 173043000 {
		t.Fatalf("target frequencies mismatch: %v", got.TargetFrequencies)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, _, err := decodeMessage(nil); err == nil {
		t.Fatalf("expected error for empty message")
	}
	if _, _, err := decodeMessage([]byte{0xFF, 0x00, 0x01}); err == nil {
		t.Fatalf("expected error for malformed cbor")
	}
}
