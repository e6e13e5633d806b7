package logging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []*gelf.Message
}

func (s *recordingSender) WriteMessage(m *gelf.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *recordingSender) all() []*gelf.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*gelf.Message(nil), s.msgs...)
}

func TestGELFHandler_Fields(t *testing.T) {
	sender := &recordingSender{}
	logger := slog.New(newGELFHandler(sender, slog.LevelDebug)).With("run", "r-1")

	logger.Error("offboard start failed",
		"vehicle", 3,
		"error", errors.New("denied"),
		"elapsed", 1500*time.Millisecond,
		"id", "x",
		slog.Group("setpoint", "north", 1.5, "yaw", 90.0),
	)

	msgs := sender.all()
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, "1.1", m.Version)
	assert.Equal(t, "offboard start failed", m.Short)
	assert.Equal(t, int32(3), m.Level)
	assert.Equal(t, ServiceName, m.Facility)
	assert.NotZero(t, m.TimeUnix)
	assert.Equal(t, map[string]any{
		"_run":            "r-1",
		"_vehicle":        int64(3),
		"_error":          "denied",
		"_elapsed":        1.5,
		"_id_":            "x",
		"_setpoint.north": 1.5,
		"_setpoint.yaw":   90.0,
	}, m.Extra)
}

func TestGELFHandler_Group(t *testing.T) {
	sender := &recordingSender{}
	logger := slog.New(newGELFHandler(sender, slog.LevelInfo)).WithGroup("link").With("port", 14540)

	logger.Info("connected", "system", 1)

	m := sender.all()[0]
	assert.Equal(t, int64(14540), m.Extra["_link.port"])
	assert.Equal(t, int64(1), m.Extra["_link.system"])
}

func TestGELFHandler_WithAttrsDoesNotLeak(t *testing.T) {
	sender := &recordingSender{}
	base := slog.New(newGELFHandler(sender, slog.LevelInfo))

	base.With("vehicle", 1).Info("one")
	base.Info("none")

	msgs := sender.all()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Extra, "_vehicle")
	assert.NotContains(t, msgs[1].Extra, "_vehicle")
}

func TestGELFHandler_Level(t *testing.T) {
	h := newGELFHandler(&recordingSender{}, slog.LevelInfo)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))

	assert.Equal(t, int32(7), syslogLevel(slog.LevelDebug))
	assert.Equal(t, int32(6), syslogLevel(slog.LevelInfo))
	assert.Equal(t, int32(4), syslogLevel(slog.LevelWarn))
	assert.Equal(t, int32(3), syslogLevel(slog.LevelError))
}

func TestNewGraylogWriter(t *testing.T) {
	w, err := NewGraylogWriter("127.0.0.1:12201")
	require.NoError(t, err)
	assert.Equal(t, ServiceName, w.Facility)
	require.NoError(t, w.Close())
}
