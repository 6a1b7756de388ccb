package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/vehiclecount/internal/codec"
)

const (
	maxFrameSize  = 16 << 20
	stderrTailLen = 2048
)

// FFmpegOpener decodes inputs with an ffmpeg subprocess writing MJPEG to a
// pipe. The input frame rate comes from ffprobe.
type FFmpegOpener struct {
	FFmpegPath   string
	FFprobePath  string
	ProbeTimeout time.Duration
	DefaultFPS   float64
	Run          Runner
	Logger       logrus.FieldLogger
}

func (o *FFmpegOpener) Open(ctx context.Context, target Target) (Capture, error) {
	fps := o.probeFPS(ctx, target.Input)

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, o.FFmpegPath, ffmpegArgs(target)...)
	stderr := &tailBuffer{max: stderrTailLen}
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	c := &ffmpegCapture{
		cmd:    cmd,
		cancel: cancel,
		fps:    fps,
		stderr: stderr,
		frames: make(chan Frame, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop(stdout)
	return c, nil
}

func ffmpegArgs(t Target) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if t.Realtime {
		args = append(args, "-re")
	}
	if strings.HasPrefix(strings.ToLower(t.Input), "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args,
		"-i", t.Input,
		"-an",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-f", "image2pipe",
		"-",
	)
}

func (o *FFmpegOpener) probeFPS(ctx context.Context, input string) float64 {
	if o.FFprobePath == "" {
		return o.DefaultFPS
	}

	ctx, cancel := withTimeout(ctx, o.ProbeTimeout)
	defer cancel()

	out, err := runner(o.Run)(ctx, o.FFprobePath,
		"-v", "quiet", "-print_format", "json", "-show_streams", "-select_streams", "v:0", input)
	if err == nil {
		if fps, perr := parseProbe(out); perr == nil && fps > 0 {
			return fps
		} else if perr != nil {
			err = perr
		}
	}
	if o.Logger != nil && err != nil {
		o.Logger.WithError(err).WithField("default_fps", o.DefaultFPS).Debug("Frame rate probe failed")
	}
	return o.DefaultFPS
}

func parseProbe(out []byte) (float64, error) {
	var info struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			RFrameRate string `json:"r_frame_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &info); err != nil {
		return 0, err
	}
	for _, s := range info.Streams {
		if s.CodecType != "video" {
			continue
		}
		return parseFrameRate(s.RFrameRate)
	}
	return 0, errors.New("no video stream")
}

// parseFrameRate understands "30000/1001" and plain "25".
func parseFrameRate(s string) (float64, error) {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate: %q", s)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid frame rate: %q", s)
	}
	return n / d, nil
}

type ffmpegCapture struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	fps    float64
	stderr *tailBuffer

	frames chan Frame
	quit   chan struct{}
	done   chan struct{}
	err    error // written by readLoop before done closes

	waitOnce  sync.Once
	waitErr   error
	closeOnce sync.Once
}

func (c *ffmpegCapture) readLoop(stdout io.Reader) {
	defer close(c.done)

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 256<<10), maxFrameSize)
	sc.Split(codec.SplitJPEG)

	for sc.Scan() {
		data := make([]byte, len(sc.Bytes()))
		copy(data, sc.Bytes())

		img, err := codec.Decode(data)
		if err != nil {
			c.err = err
			return
		}

		select {
		case c.frames <- Frame{Image: img, Encoded: data}:
		case <-c.quit:
			c.err = ErrCaptureClosed
			return
		}
	}

	if err := sc.Err(); err != nil {
		c.err = err
		return
	}

	// stdout closed on its own: the process is finishing
	if err := c.wait(); err != nil {
		if tail := c.stderr.String(); tail != "" {
			c.err = fmt.Errorf("ffmpeg exited: %w: %s", err, tail)
		} else {
			c.err = fmt.Errorf("ffmpeg exited: %w", err)
		}
		return
	}
	c.err = io.EOF
}

func (c *ffmpegCapture) wait() error {
	c.waitOnce.Do(func() {
		c.waitErr = c.cmd.Wait()
	})
	return c.waitErr
}

func (c *ffmpegCapture) Read(ctx context.Context) (Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.done:
		// a frame may have been queued before the reader finished
		select {
		case f := <-c.frames:
			return f, nil
		default:
		}
		return Frame{}, c.err
	}
}

func (c *ffmpegCapture) FPS() float64 {
	return c.fps
}

// Close kills ffmpeg and reaps it. Safe to call more than once.
func (c *ffmpegCapture) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.cancel()
		<-c.done
		_ = c.wait()
	})
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
