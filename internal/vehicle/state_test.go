package vehicle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "StoppingOffboard", StoppingOffboard.String())
	assert.Equal(t, "Failed", Failed.String())
	assert.Equal(t, "Unknown", State(99).String())
	assert.Equal(t, "Unknown", State(-1).String())
}

func TestState_Terminal(t *testing.T) {
	for s := Connecting; s <= Failed; s++ {
		want := s == Done || s == Aborted || s == Failed
		assert.Equal(t, want, s.Terminal(), s.String())
	}
}

func TestStatus_JSONUsesStateName(t *testing.T) {
	data, err := json.Marshal(Status{VehicleID: 2, State: WaitingGrounded})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"WaitingGrounded"`)
}
