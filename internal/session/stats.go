package session

import (
	"time"

	"github.com/zsiec/vehiclecount/internal/counter"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusFailedOpen Status = "failed_open"
)

// Terminal reports whether the run has ended.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailedOpen
}

// Active reports whether a run is in progress.
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusRunning
}

// Stats is a point-in-time view of one slot.
type Stats struct {
	Slot            int            `json:"sid"`
	Status          Status         `json:"status"`
	ModelFile       string         `json:"model_file,omitempty"`
	ModelName       string         `json:"model_name,omitempty"`
	Source          string         `json:"source,omitempty"`
	ResolvedVia     string         `json:"resolved_via,omitempty"`
	InputFPS        float64        `json:"fps_in"`
	ProcessedFPS    float64        `json:"fps_proc"`
	Counts          map[string]int `json:"counts"`
	CurrentVisible  map[string]int `json:"current_visible"`
	FramesProcessed int            `json:"frames"`
	FramesRead      int            `json:"frames_read"`
	RelayDropped    uint64         `json:"relay_dropped"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	StoppedAt       *time.Time     `json:"stopped_at,omitempty"`
	Error           string         `json:"error,omitempty"`
}

func idleStats(slot int) Stats {
	return Stats{
		Slot:           slot,
		Status:         StatusIdle,
		Counts:         counter.Zero(),
		CurrentVisible: counter.Zero(),
	}
}

// Clone returns a deep copy.
func (s Stats) Clone() Stats {
	out := s
	out.Counts = cloneCounts(s.Counts)
	out.CurrentVisible = cloneCounts(s.CurrentVisible)
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.StoppedAt != nil {
		t := *s.StoppedAt
		out.StoppedAt = &t
	}
	return out
}

// Total is the sum of the cumulative counts.
func (s Stats) Total() int {
	total := 0
	for _, n := range s.Counts {
		total += n
	}
	return total
}

func cloneCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
