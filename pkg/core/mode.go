// pkg/core/mode.go
package core

// ModeCode is the flight phase tag carried by every trajectory waypoint.
// Codes are opaque to the control loop; they are only logged and reported.
type ModeCode int

const (
	ModeGrounded               ModeCode = 0
	ModeClimbing               ModeCode = 10
	ModeHoldingAfterClimb      ModeCode = 20
	ModeMovingToStart          ModeCode = 30
	ModeHoldingAtStart         ModeCode = 40
	ModeMovingToManeuverStart  ModeCode = 50
	ModeHoldingAtManeuverStart ModeCode = 60
	ModeManeuvering            ModeCode = 70
	ModeHoldingAtEnd           ModeCode = 80
	ModeReturningHome          ModeCode = 90
	ModeLanding                ModeCode = 100
)

var modeDescriptions = map[ModeCode]string{
	ModeGrounded:               "On the ground",
	ModeClimbing:               "Initial climbing state",
	ModeHoldingAfterClimb:      "Initial holding after climb",
	ModeMovingToStart:          "Moving to start point",
	ModeHoldingAtStart:         "Holding at start point",
	ModeMovingToManeuverStart:  "Moving to maneuvering start point",
	ModeHoldingAtManeuverStart: "Holding at maneuver start point",
	ModeManeuvering:            "Maneuvering (trajectory)",
	ModeHoldingAtEnd:           "Holding at the end of the trajectory coordinate",
	ModeReturningHome:          "Returning to home coordinate",
	ModeLanding:                "Landing",
}

// Description returns the human-readable name of the mode.
func (m ModeCode) Description() string {
	if d, ok := modeDescriptions[m]; ok {
		return d
	}
	return "unknown mode"
}

// Known reports whether the code is part of the fixed description table.
func (m ModeCode) Known() bool {
	_, ok := modeDescriptions[m]
	return ok
}
