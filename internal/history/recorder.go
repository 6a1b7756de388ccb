package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zsiec/vehiclecount/internal/metrics"
	"github.com/zsiec/vehiclecount/internal/session"
)

var (
	ErrQueueFull      = errors.New("history: queue full")
	ErrRecorderClosed = errors.New("history: recorder closed")
)

// Writer is the storage side of the recorder.
type Writer interface {
	Create(ctx context.Context, e Entry) (Record, error)
}

// Recorder writes finished sessions in the background so a slow or broken
// database never stalls a session goroutine. Writes are paced by a token
// bucket.
type Recorder struct {
	store   Writer
	queue   chan Entry
	limiter *rate.Limiter
	log     logrus.FieldLogger

	dropped atomic.Int64
	written atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

func NewRecorder(store Writer, queueSize int, writesPerSecond float64, log logrus.FieldLogger) *Recorder {
	if queueSize < 1 {
		queueSize = 1
	}
	burst := int(writesPerSecond)
	if burst < 1 {
		burst = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := &Recorder{
		store:   store,
		queue:   make(chan Entry, queueSize),
		limiter: rate.NewLimiter(rate.Limit(writesPerSecond), burst),
		log:     log,
		closeCh: make(chan struct{}),
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// Enqueue queues an entry without blocking.
func (r *Recorder) Enqueue(e Entry) error {
	if r.closed.Load() {
		return ErrRecorderClosed
	}
	select {
	case r.queue <- e:
		return nil
	default:
		r.dropped.Add(1)
		metrics.RecordHistoryWrite(false)
		return ErrQueueFull
	}
}

// SessionChanged records sessions that processed at least one frame once
// they reach a terminal status.
func (r *Recorder) SessionChanged(st session.Stats) {
	if !st.Status.Terminal() || st.FramesProcessed == 0 {
		return
	}

	model := st.ModelName
	if model == "" {
		model = st.ModelFile
	}
	e := Entry{
		Model:     model,
		Source:    st.Source,
		Total:     st.Total(),
		Breakdown: st.Counts,
		AvgFPS:    st.ProcessedFPS,
		Slot:      st.Slot,
		Frames:    st.FramesProcessed,
	}

	if err := r.Enqueue(e); err != nil {
		r.log.WithError(err).WithField("slot", st.Slot).Warn("Session summary not recorded")
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.closeCh
		cancel()
	}()

	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		case <-r.closeCh:
			// flush what is already queued without pacing
			for {
				select {
				case e := <-r.queue:
					r.write(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	if err := r.limiter.Wait(ctx); err != nil && ctx.Err() == nil {
		r.log.WithError(err).Warn("History write pacing failed")
	}

	rec, err := r.store.Create(context.Background(), e)
	metrics.RecordHistoryWrite(err == nil)
	if err != nil {
		r.log.WithError(err).WithField("source", e.Source).Error("Failed to write session summary")
		return
	}
	r.written.Add(1)
	r.log.WithFields(logrus.Fields{
		"id":    rec.ID,
		"slot":  rec.Slot,
		"total": rec.TotalVehicles,
	}).Info("Session summary recorded")
}

// Close stops accepting entries, flushes the queue and waits for the worker.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.closeCh)
	})
	r.wg.Wait()
}

// Stats reports written and dropped entries.
func (r *Recorder) Stats() (written, dropped int64) {
	return r.written.Load(), r.dropped.Load()
}
