// Package session runs the per-slot counting pipelines and the fixed pool
// of slots that owns them.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/vehiclecount/internal/counter"
	"github.com/zsiec/vehiclecount/internal/detect"
	"github.com/zsiec/vehiclecount/internal/logger"
	"github.com/zsiec/vehiclecount/internal/metrics"
	"github.com/zsiec/vehiclecount/internal/relay"
	"github.com/zsiec/vehiclecount/internal/source"
	"github.com/zsiec/vehiclecount/internal/vision"
)

var (
	ErrInvalidSlot      = errors.New("session: invalid slot")
	ErrAlreadyRunning   = errors.New("session: already running")
	ErrModelUnavailable = errors.New("session: model unavailable")
)

// Resolver opens a verified capture for a source string.
type Resolver interface {
	Resolve(ctx context.Context, src string) (source.Capture, source.Via, error)
}

// Tracker assigns identities to detections across frames.
type Tracker interface {
	Update(dets []vision.Detection) []vision.Track
}

// Renderer draws tracks onto a frame.
type Renderer interface {
	Render(img image.Image, tracks []vision.Track, names map[int]string) image.Image
}

// Encoder turns a frame into bytes for the relay.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

// Listener observes stats on state changes and every fps window. It is
// called from the session goroutine and must not block.
type Listener interface {
	SessionChanged(stats Stats)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Stats)

func (f ListenerFunc) SessionChanged(s Stats) { f(s) }

// Deps are the collaborators shared by every session.
type Deps struct {
	Loader     detect.Loader
	Resolver   Resolver
	NewTracker func() Tracker
	Renderer   Renderer
	Encoder    Encoder
	Listeners  []Listener
	// RemoveFile deletes transient uploads; defaults to os.Remove
	RemoveFile func(path string) error
	Logger     *logrus.Logger
}

// Options size a session.
type Options struct {
	RelayDepth  int
	FPSWindow   int
	StopTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.RelayDepth < 1 {
		o.RelayDepth = relay.DefaultDepth
	}
	if o.FPSWindow < 1 {
		o.FPSWindow = 20
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 2 * time.Second
	}
	return o
}

// Params describe one run.
type Params struct {
	ModelFile  string
	Source     string
	Confidence float64
	ImageSize  int
	Interval   int
	// Transient marks an uploaded file that is deleted when the run ends
	Transient bool
}

// Session is one slot's pipeline. It is reused across runs.
type Session struct {
	slot  int
	deps  Deps
	opts  Options
	relay *relay.Relay
	log   logger.Logger
	flog  *logger.SampledLogger

	// mu guards stats and counter
	mu          sync.Mutex
	stats       Stats
	counter     *counter.Counter
	droppedBase uint64

	// runMu guards cancel and done
	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(slot int, deps Deps, opts Options) *Session {
	opts = opts.withDefaults()
	if deps.RemoveFile == nil {
		deps.RemoveFile = os.Remove
	}

	var log logger.Logger = logger.NewNullLogger()
	if deps.Logger != nil {
		log = logger.NewLogrusAdapter(logger.WithSession(deps.Logger, slot))
	}

	return &Session{
		slot:    slot,
		deps:    deps,
		opts:    opts,
		relay:   relay.New(opts.RelayDepth),
		log:     log,
		flog:    logger.NewFrameLogger(log),
		stats:   idleStats(slot),
		counter: counter.New(),
	}
}

func (s *Session) Slot() int {
	return s.slot
}

// Frames returns the relay the live feed reads from.
func (s *Session) Frames() *relay.Relay {
	return s.relay
}

// Done returns a channel closed when the current run ends. It is nil before
// the first run.
func (s *Session) Done() <-chan struct{} {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.done
}

// Active reports whether the session goroutine is still running.
func (s *Session) Active() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.activeLocked()
}

func (s *Session) activeLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Start resets the session and launches a run. It does not wait for the
// source to open.
func (s *Session) Start(p Params) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.activeLocked() {
		return ErrAlreadyRunning
	}
	if p.Interval < 1 {
		p.Interval = 1
	}

	s.relay.Drain()

	now := time.Now()
	s.mu.Lock()
	s.counter.Reset()
	s.droppedBase = s.relay.Dropped()
	s.stats = idleStats(s.slot)
	s.stats.Status = StatusStarting
	s.stats.ModelFile = p.ModelFile
	s.stats.ModelName = detect.Label(p.ModelFile)
	s.stats.Source = p.Source
	s.stats.StartedAt = &now
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.run(ctx, p, done)
	return nil
}

// Stop cancels the run and waits up to the stop timeout or ctx for it to
// end. Only the stop timeout counts as a leaked goroutine. The relay is
// drained either way.
func (s *Session) Stop(ctx context.Context) {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.runMu.Unlock()

	defer s.relay.Drain()

	if done == nil {
		return
	}
	cancel()

	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		metrics.RecordLeakedTask()
		s.log.WithField("timeout", s.opts.StopTimeout).Warn("Session goroutine did not exit in time, leaking it")
	case <-ctx.Done():
		// cancelled already; the goroutine exits on its own
		s.log.WithError(ctx.Err()).Debug("Stopped waiting for session goroutine")
	}
}

// Stats returns a deep copy of the current stats.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats.Clone()
	out.RelayDropped = s.relay.Dropped() - s.droppedBase
	return out
}

func (s *Session) update(fn func(st *Stats)) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
	out := s.stats.Clone()
	out.RelayDropped = s.relay.Dropped() - s.droppedBase
	return out
}

func (s *Session) notify(st Stats) {
	for _, l := range s.deps.Listeners {
		l.SessionChanged(st)
	}
}

func (s *Session) run(ctx context.Context, p Params, done chan struct{}) {
	defer close(done)

	s.notify(s.Stats())

	status := StatusStopped
	var runErr error

	defer func() {
		if r := recover(); r != nil {
			status = StatusStopped
			runErr = fmt.Errorf("panic: %v", r)
			s.log.WithField("panic", r).Error("Session goroutine panicked")
		}
		s.finish(p, status, runErr)
	}()

	det, err := s.deps.Loader.Load(ctx, p.ModelFile)
	if err != nil {
		if ctx.Err() == nil {
			status, runErr = StatusFailedOpen, err
		}
		return
	}
	defer func() {
		if err := det.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to release detector")
		}
	}()

	capture, via, err := s.deps.Resolver.Resolve(ctx, p.Source)
	if err != nil {
		if ctx.Err() == nil {
			status, runErr = StatusFailedOpen, err
		}
		return
	}
	defer func() {
		if err := capture.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close capture")
		}
	}()

	s.notify(s.update(func(st *Stats) {
		st.ResolvedVia = string(via)
		st.InputFPS = capture.FPS()
		st.Status = StatusRunning
	}))
	s.log.WithFields(map[string]interface{}{
		"model":  p.ModelFile,
		"source": p.Source,
		"via":    via,
	}).Info("Session running")

	runErr = s.loop(ctx, p, det, capture)
}

// loop processes frames until the source ends, a read fails or ctx is
// cancelled. Only read failures other than EOF are returned.
func (s *Session) loop(ctx context.Context, p Params, det detect.Detector, capture source.Capture) error {
	tracker := s.deps.NewTracker()
	names := det.ClassNames()
	opts := detect.Options{Confidence: p.Confidence, ImageSize: p.ImageSize}

	start := time.Now()
	index := 0
	defer func() {
		// short runs never reach a window boundary
		if index == 0 {
			return
		}
		elapsed := time.Since(start).Seconds()
		if elapsed <= 0 {
			return
		}
		fps := float64(index) / elapsed
		metrics.SetProcessedFPS(s.slot, fps)
		s.update(func(st *Stats) {
			st.ProcessedFPS = fps
			st.FramesRead = index
		})
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := capture.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			s.flog.Warn(logger.CategoryFrameRead, "Frame read failed, ending stream", map[string]interface{}{"error": err.Error()})
			return err
		}

		index++
		metrics.RecordFrameRead(s.slot)

		if index%s.opts.FPSWindow == 0 {
			elapsed := time.Since(start).Seconds()
			fps := 0.0
			if elapsed > 0 {
				fps = float64(index) / elapsed
			}
			metrics.SetProcessedFPS(s.slot, fps)
			s.notify(s.update(func(st *Stats) {
				st.ProcessedFPS = fps
				st.FramesRead = index
			}))
		} else {
			s.update(func(st *Stats) { st.FramesRead = index })
		}

		if p.Interval > 1 && index%p.Interval != 0 {
			s.relayRaw(frame)
			continue
		}

		dets, err := detect.DetectFrame(ctx, det, frame.Image, frame.Encoded, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.flog.Warn(logger.CategoryDetection, "Detection failed, relaying raw frame", map[string]interface{}{"error": err.Error()})
			s.relayRaw(frame)
			continue
		}

		tracks := tracker.Update(dets)

		var added []string
		s.update(func(st *Stats) {
			st.CurrentVisible = s.counter.Update(tracks, names)
			st.Counts = s.counter.Counts()
			added = s.counter.Added()
		})
		for _, cls := range added {
			metrics.RecordVehicleCounted(s.slot, cls)
		}

		annotated := s.deps.Renderer.Render(frame.Image, tracks, names)
		data, err := s.deps.Encoder.Encode(annotated)
		if err != nil {
			s.flog.Warn(logger.CategoryEncode, "Failed to encode annotated frame", map[string]interface{}{"error": err.Error()})
		} else {
			s.push(data)
		}

		s.update(func(st *Stats) { st.FramesProcessed++ })
		metrics.RecordFrameProcessed(s.slot)
	}
}

// relayRaw forwards a frame without detection, reusing its source encoding.
func (s *Session) relayRaw(frame source.Frame) {
	data := frame.Encoded
	if data == nil {
		var err error
		if data, err = s.deps.Encoder.Encode(frame.Image); err != nil {
			s.flog.Warn(logger.CategoryEncode, "Failed to encode raw frame", map[string]interface{}{"error": err.Error()})
			return
		}
	}
	s.push(data)
}

func (s *Session) push(data []byte) {
	if s.relay.Push(data) {
		return
	}
	metrics.RecordRelayDrop(s.slot)
	s.flog.Debug(logger.CategoryRelayDrop, "Relay full, frame dropped", map[string]interface{}{"depth": s.relay.Cap()})
}

func (s *Session) finish(p Params, status Status, runErr error) {
	now := time.Now()
	final := s.update(func(st *Stats) {
		st.Status = status
		st.StoppedAt = &now
		if runErr != nil {
			st.Error = runErr.Error()
		}
	})

	metrics.RecordSessionEnd(string(status))
	fields := map[string]interface{}{
		"status": status,
		"frames": final.FramesProcessed,
		"total":  final.Total(),
	}
	if runErr != nil {
		s.log.WithFields(fields).WithError(runErr).Warn("Session ended")
	} else {
		s.log.WithFields(fields).Info("Session ended")
	}

	s.notify(final)

	if p.Transient {
		if err := s.deps.RemoveFile(p.Source); err != nil && !os.IsNotExist(err) {
			s.log.WithError(err).WithField("path", p.Source).Warn("Failed to delete uploaded source")
		}
	}
}
