package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/vehiclecount/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *config.LoggingConfig
		wantErr bool
		check   func(t *testing.T, logger *logrus.Logger)
	}{
		{
			name:   "json format stdout",
			config: &config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.InfoLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.JSONFormatter)
				assert.True(t, ok)
			},
		},
		{
			name:   "text format stderr",
			config: &config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.DebugLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.TextFormatter)
				assert.True(t, ok)
			},
		},
		{
			name: "file output",
			config: &config.LoggingConfig{
				Level:      "warn",
				Format:     "json",
				Output:     filepath.Join(t.TempDir(), "logs", "test.log"),
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     7,
			},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.WarnLevel, logger.Level)
			},
		},
		{
			name:    "invalid level",
			config:  &config.LoggingConfig{Level: "loud", Format: "json", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, logger)
		})
	}
}

func TestNewAddsServiceFields(t *testing.T) {
	logger, err := New(&config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	WithSession(logger, 3).Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "vehiclecount", line["service"])
	assert.Equal(t, "session", line["component"])
	assert.Equal(t, float64(3), line["slot"])
	assert.Equal(t, "hello", line["message"])
}

func TestNullLogger(t *testing.T) {
	l := OrNull(nil)
	assert.IsType(t, &NullLogger{}, l)
	assert.NotPanics(t, func() {
		l.WithField("k", "v").WithError(assert.AnError).Warn("ignored")
	})
}

func TestSampledLogger(t *testing.T) {
	base := logrus.New()
	var buf bytes.Buffer
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	s := NewSampledLogger(NewLogrusAdapter(logrus.NewEntry(base))).
		WithSampler("frames", time.Hour, 2)

	for i := 0; i < 10; i++ {
		s.Warn("frames", "read failed", map[string]interface{}{"i": i})
	}

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Equal(t, 2, lines)

	stats := s.Stats()["frames"]
	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, int64(8), stats.Suppressed)

	// categories without a sampler always log
	buf.Reset()
	for i := 0; i < 3; i++ {
		s.Warn("other", "always", nil)
	}
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestRequestLoggerMiddleware(t *testing.T) {
	base := logrus.New()
	base.SetOutput(&bytes.Buffer{})

	var gotID string
	var gotEntry *logrus.Entry
	h := RequestLoggerMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetRequestID(r.Context())
		gotEntry = FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/streams", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.NotEmpty(t, gotID)
	require.NotNil(t, gotEntry)
	assert.Equal(t, gotID, gotEntry.Data["request_id"])
	assert.Equal(t, "10.0.0.9", gotEntry.Data["remote_ip"])
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)
	_, _ = rw.Write([]byte("ok"))
	rw.Flush()

	assert.Equal(t, http.StatusCreated, rw.StatusCode())
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, rec.Flushed)
	assert.Equal(t, rec, rw.Unwrap())
}
