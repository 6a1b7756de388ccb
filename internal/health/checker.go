package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status represents the health status of a component.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// DefaultCheckTimeout bounds a single checker run.
const DefaultCheckTimeout = 5 * time.Second

// Check is one checker's latest result.
type Check struct {
	Name        string                 `json:"name"`
	Status      Status                 `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"-"`
	DurationMS  float64                `json:"duration_ms"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Checker probes one dependency. A nil error means healthy; errors wrapped
// with Degraded lower the status without marking the service down.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// DetailedChecker also reports numbers for the response body.
type DetailedChecker interface {
	Checker
	Details(ctx context.Context) map[string]interface{}
}

type degradedError struct {
	err error
}

func (d *degradedError) Error() string { return d.err.Error() }
func (d *degradedError) Unwrap() error { return d.err }

// Degraded marks err as a non-fatal problem.
func Degraded(err error) error {
	if err == nil {
		return nil
	}
	return &degradedError{err: err}
}

// IsDegraded reports whether err was produced by Degraded.
func IsDegraded(err error) bool {
	var d *degradedError
	return errors.As(err, &d)
}

// Manager runs registered checkers and keeps their latest results.
type Manager struct {
	checkers []Checker
	results  map[string]*Check
	timeout  time.Duration
	mu       sync.RWMutex
	logger   *logrus.Logger
}

func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		results: make(map[string]*Check),
		timeout: DefaultCheckTimeout,
		logger:  logger,
	}
}

// Register adds a checker. Registration happens at startup, before checks run.
func (m *Manager) Register(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
	m.logger.WithField("checker", checker.Name()).Debug("Registered health checker")
}

// RunChecks executes every checker concurrently and records the results.
func (m *Manager) RunChecks(ctx context.Context) map[string]*Check {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	var wg sync.WaitGroup
	resultsChan := make(chan *Check, len(checkers))

	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			resultsChan <- m.run(ctx, c)
		}(checker)
	}

	wg.Wait()
	close(resultsChan)

	results := make(map[string]*Check, len(checkers))
	m.mu.Lock()
	for check := range resultsChan {
		results[check.Name] = check
		m.results[check.Name] = check
	}
	m.mu.Unlock()

	return results
}

func (m *Manager) run(ctx context.Context, c Checker) *Check {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(checkCtx)
	duration := time.Since(start)

	check := &Check{
		Name:        c.Name(),
		Status:      StatusOK,
		LastChecked: time.Now(),
		Duration:    duration,
		DurationMS:  float64(duration.Milliseconds()),
	}
	if dc, ok := c.(DetailedChecker); ok {
		check.Details = dc.Details(checkCtx)
	}

	fields := logrus.Fields{
		"checker":  c.Name(),
		"duration": duration,
	}

	switch {
	case err == nil:
		m.logger.WithFields(fields).Debug("Health check passed")
	case errors.Is(err, context.DeadlineExceeded):
		check.Status = StatusDown
		check.Message = "Health check timed out"
		m.logger.WithFields(fields).Error("Health check timed out")
	case IsDegraded(err):
		check.Status = StatusDegraded
		check.Message = err.Error()
		m.logger.WithFields(fields).WithError(err).Warn("Health check degraded")
	default:
		check.Status = StatusDown
		check.Message = err.Error()
		m.logger.WithFields(fields).WithError(err).Error("Health check failed")
	}

	return check
}

// GetResults returns copies of the latest results.
func (m *Manager) GetResults() map[string]*Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]*Check, len(m.results))
	for k, v := range m.results {
		c := *v
		results[k] = &c
	}
	return results
}

// GetOverallStatus folds the latest results: any down is down, any degraded
// is degraded. No results yet counts as down.
func (m *Manager) GetOverallStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.results) == 0 {
		return StatusDown
	}

	overall := StatusOK
	for _, check := range m.results {
		switch check.Status {
		case StatusDown:
			return StatusDown
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// StartPeriodicChecks runs the checkers every interval until ctx ends.
func (m *Manager) StartPeriodicChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			m.RunChecks(ctx)
		case <-ctx.Done():
			m.logger.Info("Stopping periodic health checks")
			return
		}
	}
}
