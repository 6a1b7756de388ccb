package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/vehiclecount/internal/metrics"
	"github.com/zsiec/vehiclecount/internal/session"
)

// Publisher mirrors session stats into a Registry. SessionChanged only
// stores the latest stats per slot; a worker goroutine does the writes, so
// a slow registry never stalls a session. Active slots are refreshed every
// heartbeat interval.
type Publisher struct {
	registry  Registry
	instance  string
	heartbeat time.Duration
	timeout   time.Duration
	logger    logrus.FieldLogger

	mu      sync.Mutex
	pending map[int]session.Stats
	active  map[int]session.Stats

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewPublisher(reg Registry, instance string, heartbeat time.Duration, logger logrus.FieldLogger) *Publisher {
	if heartbeat <= 0 {
		heartbeat = 5 * time.Second
	}
	p := &Publisher{
		registry:  reg,
		instance:  instance,
		heartbeat: heartbeat,
		timeout:   3 * time.Second,
		logger:    logger,
		pending:   make(map[int]session.Stats),
		active:    make(map[int]session.Stats),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

// SessionChanged queues st for publication, replacing any unsent stats for
// the same slot.
func (p *Publisher) SessionChanged(st session.Stats) {
	p.mu.Lock()
	p.pending[st.Slot] = st
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Publisher) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-p.wake:
			p.flush()
		case <-ticker.C:
			p.refresh()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

func (p *Publisher) flush() {
	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[int]session.Stats, len(batch))
	p.mu.Unlock()

	for slot, st := range batch {
		if err := p.publish(slot, st); err != nil {
			continue
		}

		// terminal records are left to expire
		p.mu.Lock()
		if st.Status.Active() {
			p.active[slot] = st
		} else {
			delete(p.active, slot)
		}
		p.mu.Unlock()
	}
}

func (p *Publisher) publish(slot int, st session.Stats) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := p.registry.Publish(ctx, &Record{
		ID:       RecordID(p.instance, slot),
		Instance: p.instance,
		Stats:    st,
	})
	metrics.RecordRegistryPublish(err == nil)
	if err != nil {
		p.logger.WithError(err).WithField("slot", slot).Warn("Failed to publish session stats")
	}
	return err
}

func (p *Publisher) refresh() {
	p.mu.Lock()
	active := make(map[int]session.Stats, len(p.active))
	for slot, st := range p.active {
		active[slot] = st
	}
	p.mu.Unlock()

	for slot, st := range active {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.registry.Heartbeat(ctx, RecordID(p.instance, slot))
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, ErrNotFound):
			// expired while the session kept running
			_ = p.publish(slot, st)
		default:
			p.logger.WithError(err).WithField("slot", slot).Debug("Registry heartbeat failed")
		}
	}
}

// Close publishes anything pending and stops the worker.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.stop)
	})
	<-p.done
}
