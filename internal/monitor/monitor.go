// Package monitor periodically snapshots the live event registry to a
// status file, giving host admins a poll-friendly view without hitting the
// HTTP API.
package monitor

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dragonrift/encounter/internal/orchestrator"
)

const statusFileName = "status.json"

// Archiver persists status snapshots alongside the status file.
type Archiver interface {
	StatusRecorded(takenAt time.Time, activeRuns int, payload any)
}

// Dependencies holds all dependencies needed by the monitor service.
type Dependencies struct {
	Orc      *orchestrator.Orchestrator
	Logger   *slog.Logger
	StateDir string
	Interval time.Duration
	Archiver Archiver // optional
}

// Service writes the status snapshot on a fixed cadence.
type Service struct {
	deps      Dependencies
	mu        sync.RWMutex
	isRunning bool
	stopChan  chan struct{}
}

// EventSnapshot is the per-event block of the status file.
type EventSnapshot struct {
	ID           string     `json:"id"`
	Stage        string     `json:"stage"`
	Running      bool       `json:"running"`
	Joinable     bool       `json:"joinable"`
	Participants int        `json:"participants"`
	Spectators   int        `json:"spectators"`
	Captured     int        `json:"captured"`
	NextStart    *time.Time `json:"nextStart,omitempty"`
}

// Snapshot is the root of the status file.
type Snapshot struct {
	Time   time.Time       `json:"time"`
	Events []EventSnapshot `json:"events"`
}

// NewService creates a monitor service.
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning reports whether the monitor goroutine is active.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Collect builds the current snapshot.
func (s *Service) Collect() Snapshot {
	events := s.deps.Orc.Events()
	snap := Snapshot{
		Time:   time.Now().UTC(),
		Events: make([]EventSnapshot, 0, len(events)),
	}
	for _, ev := range events {
		row := EventSnapshot{
			ID:           string(ev.Def().ID),
			Stage:        ev.State().Stage().String(),
			Running:      ev.State().Running(),
			Joinable:     ev.State().Joinable(),
			Participants: ev.State().Participants.Len(),
			Spectators:   ev.State().Spectators.Len(),
		}
		if run := ev.Run(); run != nil {
			start := run.StartAt
			row.NextStart = &start
			row.Captured = run.CapturedCount()
		}
		snap.Events = append(snap.Events, row)
	}
	return snap
}

// ActiveRuns counts the events holding a live occurrence run.
func (s Snapshot) ActiveRuns() int {
	n := 0
	for _, e := range s.Events {
		if e.NextStart != nil {
			n++
		}
	}
	return n
}

// WriteStatusFile writes the snapshot atomically via a temp file rename.
func (s *Service) WriteStatusFile(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	target := filepath.Join(s.deps.StateDir, statusFileName)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// Start launches the monitor goroutine. Calling Start on a running monitor
// is a no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	if err := os.MkdirAll(s.deps.StateDir, 0755); err != nil {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				snap := s.Collect()
				if err := s.WriteStatusFile(snap); err != nil {
					s.deps.Logger.Error("status file write failed", "error", err)
				}
				if s.deps.Archiver != nil {
					s.deps.Archiver.StatusRecorded(snap.Time, snap.ActiveRuns(), snap)
				}
			}
		}
	}()

	return nil
}

// Stop stops the monitor goroutine.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}
