package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/vehiclecount/internal/backoff"
	"github.com/zsiec/vehiclecount/internal/codec"
	"github.com/zsiec/vehiclecount/internal/config"
	"github.com/zsiec/vehiclecount/internal/metrics"
	"github.com/zsiec/vehiclecount/internal/vision"
)

// uploadQuality is the JPEG quality of frames sent for inference.
const uploadQuality = 90

type modelInfo struct {
	Names map[string]string `json:"names"`
}

type detectResponse struct {
	Detections []struct {
		Box        [4]float64 `json:"box"`
		ClassID    int        `json:"class_id"`
		Confidence float64    `json:"confidence"`
	} `json:"detections"`
}

// HTTPLoader binds models hosted by an inference service.
type HTTPLoader struct {
	endpoint string
	client   *http.Client
	catalog  *Catalog
	cfg      config.DetectorConfig
	logger   logrus.FieldLogger
}

func NewHTTPLoader(cfg config.DetectorConfig, catalog *Catalog, logger logrus.FieldLogger) *HTTPLoader {
	return &HTTPLoader{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		catalog:  catalog,
		cfg:      cfg,
		logger:   logger.WithField("component", "detector"),
	}
}

// Load fetches the class map for modelFile, retrying transient failures.
// Unknown models and 4xx answers fail with ErrModelUnavailable.
func (l *HTTPLoader) Load(ctx context.Context, modelFile string) (Detector, error) {
	if l.catalog != nil && !l.catalog.IsAvailable(modelFile) {
		return nil, fmt.Errorf("%w: %s not installed", ErrModelUnavailable, modelFile)
	}

	var info modelInfo
	var strategy backoff.Strategy = backoff.Never{}
	if l.cfg.LoadRetries > 0 {
		strategy = backoff.NewExponentialBackoff(l.cfg.RetryInitial, l.cfg.RetryMax, 2, l.cfg.LoadRetries)
	}

	err := backoff.Retry(ctx, strategy, l.logger.WithField("model", modelFile), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.modelURL(modelFile), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return json.NewDecoder(resp.Body).Decode(&info)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("inference service answered %d", resp.StatusCode))
		default:
			return fmt.Errorf("inference service answered %d", resp.StatusCode)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, modelFile, err)
	}

	names := make(map[int]string, len(info.Names))
	for k, v := range info.Names {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		names[id] = v
	}

	l.logger.WithFields(logrus.Fields{"model": modelFile, "classes": len(names)}).Info("Model bound")

	return &HTTPDetector{
		model:  modelFile,
		url:    l.modelURL(modelFile) + "/detect",
		client: l.client,
		names:  names,
		codec:  codec.NewJPEG(uploadQuality),
	}, nil
}

func (l *HTTPLoader) modelURL(modelFile string) string {
	return l.endpoint + "/models/" + url.PathEscape(modelFile)
}

// Ping checks that the inference service answers at all.
func (l *HTTPLoader) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint+"/models", nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("inference service answered %d", resp.StatusCode)
	}
	return nil
}

// HTTPDetector posts JPEG frames to the inference service.
type HTTPDetector struct {
	model  string
	url    string
	client *http.Client
	names  map[int]string
	codec  *codec.JPEG
	closed atomic.Bool
}

func (d *HTTPDetector) Detect(ctx context.Context, img image.Image, opts Options) ([]vision.Detection, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	dets, err := d.detect(ctx, img, nil, opts)
	metrics.ObserveDetection(d.model, time.Since(start), err)
	return dets, err
}

// DetectEncoded uploads jpeg as is. The service scales to opts.ImageSize
// itself, so no local resize is needed.
func (d *HTTPDetector) DetectEncoded(ctx context.Context, img image.Image, jpeg []byte, opts Options) ([]vision.Detection, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	dets, err := d.detect(ctx, img, jpeg, opts)
	metrics.ObserveDetection(d.model, time.Since(start), err)
	return dets, err
}

func (d *HTTPDetector) detect(ctx context.Context, img image.Image, body []byte, opts Options) ([]vision.Detection, error) {
	if len(body) == 0 {
		var err error
		if body, err = d.codec.Encode(img); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("conf", strconv.FormatFloat(opts.Confidence, 'f', -1, 64))
	q.Set("imgsz", strconv.Itoa(opts.ImageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("detect request: inference service answered %d", resp.StatusCode)
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}

	dets := make([]vision.Detection, 0, len(out.Detections))
	for _, r := range out.Detections {
		dets = append(dets, vision.Detection{
			Box:        vision.Box{X1: r.Box[0], Y1: r.Box[1], X2: r.Box[2], Y2: r.Box[3]},
			ClassID:    r.ClassID,
			Confidence: r.Confidence,
		})
	}
	return dets, nil
}

// ClassNames returns a copy of the model's class map.
func (d *HTTPDetector) ClassNames() map[int]string {
	out := make(map[int]string, len(d.names))
	for k, v := range d.names {
		out[k] = v
	}
	return out
}

func (d *HTTPDetector) Close() error {
	d.closed.Store(true)
	return nil
}
