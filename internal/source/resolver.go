package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/vehiclecount/internal/config"
	"github.com/zsiec/vehiclecount/internal/metrics"
)

// Resolver tries its strategies in order and returns the first capture that
// delivers a frame within the probe timeout.
type Resolver struct {
	strategies []Strategy
	opener     Opener
	settle     time.Duration
	probe      time.Duration
	logger     logrus.FieldLogger
}

// NewResolver builds the default chain: file, direct, platform-resolved,
// fallback-resolver, all opened through ffmpeg.
func NewResolver(cfg config.SourceConfig, logger logrus.FieldLogger) *Resolver {
	logger = logger.WithField("component", "source")
	opener := &FFmpegOpener{
		FFmpegPath:   cfg.FFmpegPath,
		FFprobePath:  cfg.FFprobePath,
		ProbeTimeout: cfg.ProbeTimeout,
		DefaultFPS:   cfg.DefaultFPS,
		Logger:       logger,
	}
	strategies := []Strategy{
		FileStrategy{},
		DirectStrategy{},
		PlatformStrategy{Tool: cfg.YTDLPPath, Hosts: cfg.PlatformHosts, Timeout: cfg.ResolveTimeout},
		FallbackStrategy{Tool: cfg.StreamlinkPath, Timeout: cfg.ResolveTimeout},
	}
	return NewResolverWith(opener, strategies, cfg.SettleDelay, cfg.ProbeTimeout, logger)
}

func NewResolverWith(opener Opener, strategies []Strategy, settle, probe time.Duration, logger logrus.FieldLogger) *Resolver {
	return &Resolver{
		strategies: strategies,
		opener:     opener,
		settle:     settle,
		probe:      probe,
		logger:     logger,
	}
}

// Resolve returns a verified capture and the strategy that produced it. On
// failure no capture is left open. A cancelled ctx returns ctx.Err().
func (r *Resolver) Resolve(ctx context.Context, source string) (Capture, Via, error) {
	var lastErr error

	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		log := r.logger.WithField("via", s.Via())

		target, err := s.Target(ctx, source)
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		if err != nil {
			log.WithError(err).Debug("Source strategy failed to resolve")
			metrics.RecordSourceResolution(string(s.Via()), false)
			lastErr = err
			continue
		}

		capture, err := r.openAndVerify(ctx, target)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, "", ctxErr
			}
			log.WithError(err).Debug("Source strategy failed to open")
			metrics.RecordSourceResolution(string(s.Via()), false)
			lastErr = err
			continue
		}

		metrics.RecordSourceResolution(string(s.Via()), true)
		log.WithField("fps", capture.FPS()).Info("Source opened")
		return capture, s.Via(), nil
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSourceUnresolvable, lastErr)
	}
	return nil, "", ErrSourceUnresolvable
}

// openAndVerify opens target, waits the settle delay and requires a first
// frame within the probe timeout. The frame is replayed by the returned
// capture.
func (r *Resolver) openAndVerify(ctx context.Context, target Target) (Capture, error) {
	capture, err := r.opener.Open(ctx, target)
	if err != nil {
		return nil, err
	}

	if r.settle > 0 {
		timer := time.NewTimer(r.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			capture.Close()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	probeCtx, cancel := withTimeout(ctx, r.probe)
	defer cancel()

	first, err := capture.Read(probeCtx)
	if err != nil {
		capture.Close()
		return nil, fmt.Errorf("verify: %w", err)
	}
	return &primedCapture{Capture: capture, first: &first}, nil
}

// primedCapture returns the verification frame before reading on.
type primedCapture struct {
	Capture
	first *Frame
}

func (p *primedCapture) Read(ctx context.Context) (Frame, error) {
	if p.first != nil {
		f := *p.first
		p.first = nil
		return f, nil
	}
	return p.Capture.Read(ctx)
}
