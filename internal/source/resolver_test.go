package source

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeCapture struct {
	mu     sync.Mutex
	frames int
	hang   bool
	closed bool
}

func (c *fakeCapture) Read(ctx context.Context) (Frame, error) {
	if c.hang {
		<-ctx.Done()
		return Frame{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frames == 0 {
		return Frame{}, io.EOF
	}
	c.frames--
	return Frame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}, nil
}

func (c *fakeCapture) FPS() float64 { return 25 }

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeOpener struct {
	mu       sync.Mutex
	behavior map[string]func() (*fakeCapture, error)
	opened   []Target
	captures []*fakeCapture
}

func (o *fakeOpener) Open(_ context.Context, t Target) (Capture, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, t)
	fn, ok := o.behavior[t.Input]
	if !ok {
		return nil, errors.New("connection refused")
	}
	c, err := fn()
	if c != nil {
		o.captures = append(o.captures, c)
	}
	return c, err
}

func fakeRunner(outputs map[string]string) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		out, ok := outputs[name]
		if !ok {
			return nil, errors.New(name + ": not found")
		}
		return []byte(out), nil
	}
}

func found(string) (string, error) { return "/usr/bin/tool", nil }
func missing(string) (string, error) { return "", errors.New("not found") }

func chain(run Runner, lookPath func(string) (string, error)) []Strategy {
	return []Strategy{
		FileStrategy{},
		DirectStrategy{},
		PlatformStrategy{Tool: "yt-dlp", Hosts: []string{"youtube.com", "youtu.be"}, Run: run},
		FallbackStrategy{Tool: "streamlink", Run: run, LookPath: lookPath},
	}
}

func TestResolveLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	opener := &fakeOpener{behavior: map[string]func() (*fakeCapture, error){
		path: func() (*fakeCapture, error) { return &fakeCapture{frames: 3}, nil },
	}}
	r := NewResolverWith(opener, chain(fakeRunner(nil), missing), 0, time.Second, quietLogger())

	capture, via, err := r.Resolve(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ViaFile, via)
	assert.True(t, opener.opened[0].Realtime)

	// the verification frame is replayed
	n := 0
	for {
		_, err := capture.Read(context.Background())
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
		n++
	}
	assert.Equal(t, 3, n)
}

func TestResolveDirect(t *testing.T) {
	src := "rtsp://camera.local/stream"
	opener := &fakeOpener{behavior: map[string]func() (*fakeCapture, error){
		src: func() (*fakeCapture, error) { return &fakeCapture{frames: 1}, nil },
	}}
	r := NewResolverWith(opener, chain(fakeRunner(nil), missing), time.Millisecond, time.Second, quietLogger())

	_, via, err := r.Resolve(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, ViaDirect, via)
	assert.False(t, opener.opened[0].Realtime)
}

func TestResolvePlatform(t *testing.T) {
	src := "https://www.youtube.com/watch?v=abc"
	media := "https://media.example/video.mp4"
	opener := &fakeOpener{behavior: map[string]func() (*fakeCapture, error){
		media: func() (*fakeCapture, error) { return &fakeCapture{frames: 1}, nil },
	}}
	run := fakeRunner(map[string]string{"yt-dlp": "\n" + media + "\n"})
	r := NewResolverWith(opener, chain(run, missing), 0, time.Second, quietLogger())

	_, via, err := r.Resolve(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, ViaPlatformResolved, via)
	assert.Equal(t, []Target{{Input: src}, {Input: media}}, opener.opened)
}

func TestResolveFallback(t *testing.T) {
	src := "https://twitch.example/channel"
	hls := "https://edge.example/live.m3u8"
	opener := &fakeOpener{behavior: map[string]func() (*fakeCapture, error){
		hls: func() (*fakeCapture, error) { return &fakeCapture{frames: 1}, nil },
	}}
	run := fakeRunner(map[string]string{"streamlink": hls})

	r := NewResolverWith(opener, chain(run, found), 0, time.Second, quietLogger())
	_, via, err := r.Resolve(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, ViaFallbackResolver, via)

	r = NewResolverWith(opener, chain(run, missing), 0, time.Second, quietLogger())
	_, _, err = r.Resolve(context.Background(), src)
	assert.ErrorIs(t, err, ErrSourceUnresolvable)
}

func TestResolveClosesUnverifiedCaptures(t *testing.T) {
	src := "rtsp://camera.local/silent"
	opener := &fakeOpener{behavior: map[string]func() (*fakeCapture, error){
		src: func() (*fakeCapture, error) { return &fakeCapture{hang: true}, nil },
	}}
	r := NewResolverWith(opener, chain(fakeRunner(nil), missing), 0, 20*time.Millisecond, quietLogger())

	capture, _, err := r.Resolve(context.Background(), src)
	assert.Nil(t, capture)
	assert.ErrorIs(t, err, ErrSourceUnresolvable)
	require.Len(t, opener.captures, 1)
	assert.True(t, opener.captures[0].closed)
}

func TestResolveEmptySourceClosesEverything(t *testing.T) {
	src := "rtsp://camera.local/empty"
	opener := &fakeOpener{behavior: map[string]func() (*fakeCapture, error){
		src: func() (*fakeCapture, error) { return &fakeCapture{frames: 0}, nil },
	}}
	r := NewResolverWith(opener, chain(fakeRunner(nil), missing), 0, time.Second, quietLogger())

	_, _, err := r.Resolve(context.Background(), src)
	assert.ErrorIs(t, err, ErrSourceUnresolvable)
	for _, c := range opener.captures {
		assert.True(t, c.closed)
	}
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewResolverWith(&fakeOpener{}, chain(fakeRunner(nil), missing), 0, time.Second, quietLogger())
	_, _, err := r.Resolve(ctx, "rtsp://x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveCancelledDuringSettle(t *testing.T) {
	src := "rtsp://camera.local/stream"
	opener := &fakeOpener{behavior: map[string]func() (*fakeCapture, error){
		src: func() (*fakeCapture, error) { return &fakeCapture{frames: 5}, nil },
	}}
	r := NewResolverWith(opener, chain(fakeRunner(nil), missing), time.Minute, time.Second, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := r.Resolve(ctx, src)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, opener.captures, 1)
	assert.True(t, opener.captures[0].closed)
}

func TestPlatformMatches(t *testing.T) {
	p := PlatformStrategy{Hosts: []string{"youtube.com", "youtu.be"}}
	assert.True(t, p.Matches("https://youtube.com/watch?v=1"))
	assert.True(t, p.Matches("https://m.youtube.com/watch?v=1"))
	assert.True(t, p.Matches("https://youtu.be/abc"))
	assert.False(t, p.Matches("https://notyoutube.com/watch"))
	assert.False(t, p.Matches("/videos/youtube.com.mp4"))
}

func TestDirectSkipsEmptySource(t *testing.T) {
	_, err := DirectStrategy{}.Target(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrNotApplicable)
}
