package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external tool and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, lastLine(msg))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func isLocalFile(source string) bool {
	info, err := os.Stat(source)
	return err == nil && info.Mode().IsRegular()
}

// FileStrategy opens existing local files, paced at their native rate.
type FileStrategy struct{}

func (FileStrategy) Via() Via { return ViaFile }

func (FileStrategy) Target(_ context.Context, source string) (Target, error) {
	if !isLocalFile(source) {
		return Target{}, ErrNotApplicable
	}
	return Target{Input: source, Realtime: true}, nil
}

// DirectStrategy hands the source to the opener unchanged.
type DirectStrategy struct{}

func (DirectStrategy) Via() Via { return ViaDirect }

func (DirectStrategy) Target(_ context.Context, source string) (Target, error) {
	if strings.TrimSpace(source) == "" || isLocalFile(source) {
		return Target{}, ErrNotApplicable
	}
	return Target{Input: source}, nil
}

// PlatformStrategy asks a platform resolver (yt-dlp) for a direct media URL
// when the source is hosted on a known streaming platform.
type PlatformStrategy struct {
	Tool    string
	Hosts   []string
	Timeout time.Duration
	Run     Runner
}

func (PlatformStrategy) Via() Via { return ViaPlatformResolved }

func (p PlatformStrategy) Matches(source string) bool {
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range p.Hosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (p PlatformStrategy) Target(ctx context.Context, source string) (Target, error) {
	if !p.Matches(source) {
		return Target{}, ErrNotApplicable
	}

	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()

	out, err := runner(p.Run)(ctx, p.Tool, "-g", "-f", "best[ext=mp4]/best", "--no-playlist", source)
	if err != nil {
		return Target{}, err
	}
	resolved := firstLine(out)
	if resolved == "" {
		return Target{}, fmt.Errorf("%s returned no media url", p.Tool)
	}
	return Target{Input: resolved}, nil
}

// FallbackStrategy uses a generic stream resolver (streamlink). It is skipped
// when the tool is not installed.
type FallbackStrategy struct {
	Tool     string
	Timeout  time.Duration
	Run      Runner
	LookPath func(string) (string, error)
}

func (FallbackStrategy) Via() Via { return ViaFallbackResolver }

func (f FallbackStrategy) Target(ctx context.Context, source string) (Target, error) {
	lookPath := f.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath(f.Tool); err != nil {
		return Target{}, ErrNotApplicable
	}
	if strings.TrimSpace(source) == "" || isLocalFile(source) {
		return Target{}, ErrNotApplicable
	}

	ctx, cancel := withTimeout(ctx, f.Timeout)
	defer cancel()

	out, err := runner(f.Run)(ctx, f.Tool, "--stream-url", source, "best")
	if err != nil {
		return Target{}, err
	}
	resolved := firstLine(out)
	if resolved == "" {
		return Target{}, fmt.Errorf("%s returned no stream url", f.Tool)
	}
	return Target{Input: resolved}, nil
}

func runner(r Runner) Runner {
	if r == nil {
		return execRunner
	}
	return r
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func firstLine(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
