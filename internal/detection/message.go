// Package detection turns the perception process's datagram feed into a
// debounced tracking signal for the camera vehicle.
package detection

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode is returned for datagrams that are not a detection message.
var ErrDecode = errors.New("undecodable detection message")

// Message is one detection report. Position holds pixel x and y; the
// sender uses null for a coordinate it could not resolve.
type Message struct {
	Detected bool       `json:"detected"`
	Position []*float64 `json:"position"`
}

// Valid reports whether the message is a detection whose position has at
// least two coordinates, none of them null.
func (m Message) Valid() bool {
	if !m.Detected || len(m.Position) < 2 {
		return false
	}
	for _, v := range m.Position {
		if v == nil {
			return false
		}
	}
	return true
}

// Pixel returns the object pixel position of a valid message.
func (m Message) Pixel() (x, y float64) {
	if !m.Valid() {
		return 0, 0
	}
	return *m.Position[0], *m.Position[1]
}

// NewMessage builds a detection at pixel (x, y).
func NewMessage(x, y float64) Message {
	return Message{Detected: true, Position: []*float64{&x, &y}}
}

// Decode parses a datagram payload. The payload must be a JSON object.
func Decode(data []byte) (Message, error) {
	var m *Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if m == nil {
		return Message{}, fmt.Errorf("%w: null payload", ErrDecode)
	}
	return *m, nil
}

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	if m.Position == nil {
		m.Position = []*float64{nil, nil}
	}
	return json.Marshal(m)
}
