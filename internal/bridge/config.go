package bridge

import "time"

// InterfaceKind selects how the backend reaches the drone radio.
type InterfaceKind string

const (
	InterfaceSerial    InterfaceKind = "serial"
	InterfaceSimulated InterfaceKind = "simulated"
)

// CommsConfig parameterizes InitializeComms. Serial interfaces require Port;
// simulated interfaces require Host and TCPPort. Validation happens in the
// lifecycle state machine before any backend call is made.
type CommsConfig struct {
	InterfaceKind InterfaceKind `json:"interface_kind"`
	Port          string        `json:"port"`
	BaudRate      int           `json:"baud_rate"`
	Host          string        `json:"host"`
	TCPPort       int           `json:"tcp_port"`
	AckTimeoutMS  int           `json:"ack_timeout_ms"`
	MaxRetries    int           `json:"max_retries"`
}

// AckTimeout returns the per-attempt acknowledgment timeout.
func (c CommsConfig) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMS) * time.Millisecond
}

// ResponseWindow is how long a request may stay unanswered before the bridge
// synthesizes the stage's timeout event: one ack timeout per allowed attempt.
func (c CommsConfig) ResponseWindow() time.Duration {
	retries := c.MaxRetries
	if retries < 1 {
		retries = 1
	}

	return c.AckTimeout() * time.Duration(retries)
}

// PingFinderConfig is the sensor configuration sent with SendConfigRequest.
type PingFinderConfig struct {
	Gain              float64  `json:"gain"`
	SamplingRate      int      `json:"sampling_rate"`
	CenterFrequency   int      `json:"center_frequency"`
	RunNum            int64    `json:"run_num"`
	EnableTestData    bool     `json:"enable_test_data"`
	PingWidthMS       int      `json:"ping_width_ms"`
	PingMinSNR        int      `json:"ping_min_snr"`
	PingMaxLenMult    float64  `json:"ping_max_len_mult"`
	PingMinLenMult    float64  `json:"ping_min_len_mult"`
	TargetFrequencies []uint32 `json:"target_frequencies"`
}
