package streaming

import (
	"encoding/json"

	"github.com/aerofleet/swarmctl/pkg/core"
)

// Message type constants of the ground-station stream.
const (
	TypeStartRun      = "start_run"
	TypeEndRun        = "end_run"
	TypeTransition    = "transition"
	TypeModeChange    = "mode_change"
	TypeYawCorrection = "yaw_correction"
	TypeSetpoint      = "setpoint"
	TypeTracking      = "tracking"
	TypeVehicleError  = "vehicle_error"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartRunPayload announces a fleet run.
type StartRunPayload struct {
	Run core.Run `json:"run"`
}

// EndRunPayload closes a fleet run with its per-vehicle outcome.
type EndRunPayload struct {
	Summary core.RunSummary `json:"summary"`
}
