// Package telemetry holds the in-memory view of the drone's position and the
// ping finder's detections, mirrored to sqlite for session history.
package telemetry

import "time"

// GPSData is the drone's position at a point in time.
type GPSData struct {
	Lat       float64
	Long      float64
	Altitude  float64
	Heading   float64
	Timestamp time.Time
	PacketID  uint32
}

// PingData is one radio ping detection on a target frequency.
type PingData struct {
	Frequency uint32
	Amplitude float64
	Lat       float64
	Long      float64
	Timestamp time.Time
	PacketID  uint32
}

// LocationEstimate is the ping finder's current transmitter location estimate
// for one frequency.
type LocationEstimate struct {
	Frequency uint32
	Lat       float64
	Long      float64
	Timestamp time.Time
	PacketID  uint32
}
