package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		detected bool
		valid    bool
	}{
		{"full detection", `{"detected": true, "position": [412.5, 220]}`, true, true},
		{"null x", `{"detected": true, "position": [null, 220]}`, true, false},
		{"null third coordinate", `{"detected": true, "position": [320, 240, null]}`, true, false},
		{"three coordinates", `{"detected": true, "position": [320, 240, 7]}`, true, true},
		{"single coordinate", `{"detected": true, "position": [100]}`, true, false},
		{"no position", `{"detected": true}`, true, false},
		{"not detected", `{"detected": false, "position": [null, null]}`, false, false},
		{"missing detected", `{"position": [1, 2]}`, false, false},
		{"extra fields", `{"detected": true, "position": [1, 2], "confidence": 0.9}`, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.detected, m.Detected)
			assert.Equal(t, tt.valid, m.Valid())
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, payload := range []string{"", "not json", `{"detected": "yes"}`, `{"position": "here"}`, `[1,2]`, `null`, ` null `, `42`, `"detected"`} {
		_, err := Decode([]byte(payload))
		assert.ErrorIs(t, err, ErrDecode, "payload %q", payload)
	}
}

func TestMessage_Pixel(t *testing.T) {
	x, y := NewMessage(12, 34).Pixel()
	assert.Equal(t, 12.0, x)
	assert.Equal(t, 34.0, y)

	x, y = Message{Detected: false}.Pixel()
	assert.Zero(t, x)
	assert.Zero(t, y)
}

func TestEncode_RoundTripsNulls(t *testing.T) {
	data, err := Encode(Message{Detected: false})
	require.NoError(t, err)
	assert.JSONEq(t, `{"detected": false, "position": [null, null]}`, string(data))

	data, err = Encode(NewMessage(1.5, 2))
	require.NoError(t, err)
	assert.JSONEq(t, `{"detected": true, "position": [1.5, 2]}`, string(data))
}
