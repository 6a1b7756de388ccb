package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Per-frame log categories. A failing source or detector produces one event
// per frame, so these are sampled.
const (
	CategoryFrameRead = "frame_read"
	CategoryDetection = "detection"
	CategoryRelayDrop = "relay_drop"
	CategoryEncode    = "encode"
	CategoryPublish   = "publish"
)

// SampledLogger rate limits log lines per category and reports how many
// lines were suppressed since the last one that got through.
type SampledLogger struct {
	base Logger

	mu       sync.RWMutex
	samplers map[string]*sampler
}

type sampler struct {
	limiter    *rate.Limiter
	suppressed atomic.Int64
	total      atomic.Int64
}

// SamplerStats holds counters for one category.
type SamplerStats struct {
	Name       string `json:"name"`
	Total      int64  `json:"total"`
	Suppressed int64  `json:"suppressed"`
}

func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		base:     OrNull(base),
		samplers: make(map[string]*sampler),
	}
}

// NewFrameLogger returns a sampled logger configured for the frame loop.
func NewFrameLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		WithSampler(CategoryFrameRead, time.Second, 3).
		WithSampler(CategoryDetection, time.Second, 5).
		WithSampler(CategoryRelayDrop, 5*time.Second, 1).
		WithSampler(CategoryEncode, time.Second, 3).
		WithSampler(CategoryPublish, 5*time.Second, 2)
}

// WithSampler allows burst lines per category, refilled once every interval.
func (s *SampledLogger) WithSampler(category string, every time.Duration, burst int) *SampledLogger {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samplers[category] = &sampler{limiter: rate.NewLimiter(rate.Every(every), burst)}
	return s
}

// Base returns the unsampled logger.
func (s *SampledLogger) Base() Logger {
	return s.base
}

func (s *SampledLogger) allow(category string) (bool, int64) {
	s.mu.RLock()
	sm, ok := s.samplers[category]
	s.mu.RUnlock()
	if !ok {
		return true, 0
	}

	sm.total.Add(1)
	if !sm.limiter.Allow() {
		sm.suppressed.Add(1)
		return false, 0
	}
	return true, sm.suppressed.Swap(0)
}

// Sample logs msg at level when the category budget allows it.
func (s *SampledLogger) Sample(level logrus.Level, category, msg string, fields map[string]interface{}) {
	ok, suppressed := s.allow(category)
	if !ok {
		return
	}

	entry := s.base.WithField("category", category)
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	if suppressed > 0 {
		entry = entry.WithField("suppressed", suppressed)
	}
	entry.Log(level, msg)
}

func (s *SampledLogger) Warn(category, msg string, fields map[string]interface{}) {
	s.Sample(logrus.WarnLevel, category, msg, fields)
}

func (s *SampledLogger) Debug(category, msg string, fields map[string]interface{}) {
	s.Sample(logrus.DebugLevel, category, msg, fields)
}

// Stats returns counters for every configured category.
func (s *SampledLogger) Stats() map[string]SamplerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]SamplerStats, len(s.samplers))
	for name, sm := range s.samplers {
		stats[name] = SamplerStats{
			Name:       name,
			Total:      sm.total.Load(),
			Suppressed: sm.suppressed.Load(),
		}
	}
	return stats
}
