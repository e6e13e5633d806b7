package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aerofleet/swarmctl/internal/cache"
	"github.com/aerofleet/swarmctl/internal/mission"
	"github.com/aerofleet/swarmctl/internal/vehicle"
	"github.com/aerofleet/swarmctl/pkg/core"
)

// StatusFileName is the snapshot file written into the output directory.
const StatusFileName = "status.json"

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Statuses       *cache.Slots[vehicle.Status]
	MissionContext *mission.Context
	Logger         *slog.Logger
	OutputDir      string
	Interval       time.Duration
}

// Status is one snapshot of the fleet.
type Status struct {
	Run      core.Run         `json:"run"`
	Time     time.Time        `json:"time"`
	Active   int              `json:"active"`
	Vehicles []vehicle.Status `json:"vehicles"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
	now       func() time.Time
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current fleet snapshot.
func (s *Service) GetStatus() Status {
	st := Status{
		Time:     s.now().UTC(),
		Vehicles: s.deps.Statuses.Snapshot(),
	}
	if s.deps.MissionContext != nil {
		st.Run = s.deps.MissionContext.GetRun()
	}
	for _, v := range st.Vehicles {
		if !v.State.Terminal() {
			st.Active++
		}
	}
	return st
}

// WriteStatus overwrites the status file with the current snapshot.
func (s *Service) WriteStatus() (Status, error) {
	st := s.GetStatus()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return st, fmt.Errorf("failed to encode status: %w", err)
	}

	path := filepath.Join(s.deps.OutputDir, StatusFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return st, fmt.Errorf("failed to write status file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return st, fmt.Errorf("failed to replace status file: %w", err)
	}
	return st, nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(s.deps.OutputDir, 0755); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create status directory: %w", err)
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				// final snapshot so the file reflects terminal states
				if _, err := s.WriteStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
				return
			case <-ticker.C:
				st, err := s.WriteStatus()
				if err != nil {
					logger.Error("Error writing status file", "error", err)
					continue
				}
				logger.Debug("Fleet status", "active", st.Active, "vehicles", len(st.Vehicles))
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for its final snapshot.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.isRunning = false
	s.mu.Unlock()
	<-done
}
