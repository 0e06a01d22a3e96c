package lifecycle

// Stage is one of the four ordered negotiation steps the device is sequenced
// through. Stages must be traversed in order; StageStop success loops back to
// the beginning of StageRadioConfig.
type Stage int

const (
	StageRadioConfig Stage = iota
	StagePingFinderConfig
	StageStart
	StageStop
)

func (s Stage) String() string {
	switch s {
	case StageRadioConfig:
		return "radio_config"
	case StagePingFinderConfig:
		return "ping_finder_config"
	case StageStart:
		return "start"
	case StageStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Phase is the single discriminated lifecycle value. Exactly one phase is
// active at any instant and transitions are the only way it changes.
type Phase int

const (
	PhaseRadioConfigInput Phase = iota
	PhaseRadioConfigWaiting
	PhaseRadioConfigTimeout

	PhasePingFinderConfigInput
	PhasePingFinderConfigWaiting
	PhasePingFinderConfigTimeout

	PhaseStartInput
	PhaseStartWaiting
	PhaseStartTimeout

	PhaseStopInput
	PhaseStopWaiting
	PhaseStopTimeout
)

// Stage returns the negotiation stage a phase belongs to.
func (p Phase) Stage() Stage {
	switch {
	case p <= PhaseRadioConfigTimeout:
		return StageRadioConfig
	case p <= PhasePingFinderConfigTimeout:
		return StagePingFinderConfig
	case p <= PhaseStartTimeout:
		return StageStart
	default:
		return StageStop
	}
}

// InFlight reports whether a request for the phase's stage is outstanding
// (Waiting or Timeout sub-state). Outcome events are only honored in-flight.
func (p Phase) InFlight() bool {
	switch p {
	case PhaseRadioConfigWaiting, PhaseRadioConfigTimeout,
		PhasePingFinderConfigWaiting, PhasePingFinderConfigTimeout,
		PhaseStartWaiting, PhaseStartTimeout,
		PhaseStopWaiting, PhaseStopTimeout:
		return true
	default:
		return false
	}
}

func (p Phase) String() string {
	switch p {
	case PhaseRadioConfigInput:
		return "radio_config_input"
	case PhaseRadioConfigWaiting:
		return "radio_config_waiting"
	case PhaseRadioConfigTimeout:
		return "radio_config_timeout"
	case PhasePingFinderConfigInput:
		return "ping_finder_config_input"
	case PhasePingFinderConfigWaiting:
		return "ping_finder_config_waiting"
	case PhasePingFinderConfigTimeout:
		return "ping_finder_config_timeout"
	case PhaseStartInput:
		return "start_input"
	case PhaseStartWaiting:
		return "start_waiting"
	case PhaseStartTimeout:
		return "start_timeout"
	case PhaseStopInput:
		return "stop_input"
	case PhaseStopWaiting:
		return "stop_waiting"
	case PhaseStopTimeout:
		return "stop_timeout"
	default:
		return "unknown"
	}
}

// inputPhase maps a stage to its Input sub-state.
func inputPhase(s Stage) Phase {
	switch s {
	case StageRadioConfig:
		return PhaseRadioConfigInput
	case StagePingFinderConfig:
		return PhasePingFinderConfigInput
	case StageStart:
		return PhaseStartInput
	default:
		return PhaseStopInput
	}
}

// waitingPhase maps a stage to its Waiting sub-state.
func waitingPhase(s Stage) Phase {
	switch s {
	case StageRadioConfig:
		return PhaseRadioConfigWaiting
	case StagePingFinderConfig:
		return PhasePingFinderConfigWaiting
	case StageStart:
		return PhaseStartWaiting
	default:
		return PhaseStopWaiting
	}
}

// timeoutPhase maps a stage to its Timeout sub-state.
func timeoutPhase(s Stage) Phase {
	switch s {
	case StageRadioConfig:
		return PhaseRadioConfigTimeout
	case StagePingFinderConfig:
		return PhasePingFinderConfigTimeout
	case StageStart:
		return PhaseStartTimeout
	default:
		return PhaseStopTimeout
	}
}

// nextInputPhase returns the Input phase a successful stage advances to.
// Stop success resets the whole session back to radio configuration.
func nextInputPhase(s Stage) Phase {
	switch s {
	case StageRadioConfig:
		return PhasePingFinderConfigInput
	case StagePingFinderConfig:
		return PhaseStartInput
	case StageStart:
		return PhaseStopInput
	default:
		return PhaseRadioConfigInput
	}
}
