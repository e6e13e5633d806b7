package vehicle

// State is a step of the per-vehicle lifecycle.
type State int

const (
	Connecting State = iota
	WaitingHealthy
	Arming
	SettingInitialSetpoint
	StartingOffboard
	Aborted
	Executing
	Landing
	WaitingGrounded
	StoppingOffboard
	Disarming
	Done
	Failed
)

var stateNames = [...]string{
	Connecting:             "Connecting",
	WaitingHealthy:         "WaitingHealthy",
	Arming:                 "Arming",
	SettingInitialSetpoint: "SettingInitialSetpoint",
	StartingOffboard:       "StartingOffboard",
	Aborted:                "Aborted",
	Executing:              "Executing",
	Landing:                "Landing",
	WaitingGrounded:        "WaitingGrounded",
	StoppingOffboard:       "StoppingOffboard",
	Disarming:              "Disarming",
	Done:                   "Done",
	Failed:                 "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Terminal reports whether the run ends in this state.
func (s State) Terminal() bool {
	return s == Done || s == Aborted || s == Failed
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
