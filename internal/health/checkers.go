package health

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// RedisChecker pings the live registry's Redis.
type RedisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Name() string {
	return "redis"
}

func (r *RedisChecker) Check(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client not configured")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// MemoryChecker reports degraded when system memory use crosses threshold
// (a fraction in (0, 1]).
type MemoryChecker struct {
	threshold float64
	usage     func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

func NewMemoryChecker(threshold float64) *MemoryChecker {
	return &MemoryChecker{threshold: threshold, usage: mem.VirtualMemoryWithContext}
}

func (m *MemoryChecker) Name() string {
	return "memory"
}

func (m *MemoryChecker) Check(ctx context.Context) error {
	vm, err := m.usage(ctx)
	if err != nil {
		return Degraded(fmt.Errorf("memory stats unavailable: %w", err))
	}
	if used := vm.UsedPercent / 100; used >= m.threshold {
		return Degraded(fmt.Errorf("memory usage %.1f%% exceeds %.0f%%", vm.UsedPercent, m.threshold*100))
	}
	return nil
}

func (m *MemoryChecker) Details(ctx context.Context) map[string]interface{} {
	vm, err := m.usage(ctx)
	if err != nil {
		return nil
	}
	return map[string]interface{}{
		"used_percent":    vm.UsedPercent,
		"available_bytes": vm.Available,
	}
}

// DiskChecker watches the volume holding uploads and the history database.
// Usage above threshold degrades; less than minFree bytes left is down.
type DiskChecker struct {
	path      string
	threshold float64
	minFree   uint64
	usage     func(ctx context.Context, path string) (*disk.UsageStat, error)
}

// DefaultMinDiskBytes is the free space below which uploads cannot land.
const DefaultMinDiskBytes = 256 << 20

func NewDiskChecker(path string, threshold float64) *DiskChecker {
	return &DiskChecker{
		path:      path,
		threshold: threshold,
		minFree:   DefaultMinDiskBytes,
		usage:     disk.UsageWithContext,
	}
}

func (d *DiskChecker) Name() string {
	return "disk"
}

func (d *DiskChecker) Check(ctx context.Context) error {
	u, err := d.usage(ctx, d.path)
	if err != nil {
		return fmt.Errorf("disk stats for %s: %w", d.path, err)
	}
	if u.Free < d.minFree {
		return fmt.Errorf("only %d bytes free on %s", u.Free, d.path)
	}
	if u.UsedPercent/100 >= d.threshold {
		return Degraded(fmt.Errorf("disk usage %.1f%% on %s exceeds %.0f%%", u.UsedPercent, d.path, d.threshold*100))
	}
	return nil
}

func (d *DiskChecker) Details(ctx context.Context) map[string]interface{} {
	u, err := d.usage(ctx, d.path)
	if err != nil {
		return nil
	}
	return map[string]interface{}{
		"path":         d.path,
		"used_percent": u.UsedPercent,
		"free_bytes":   u.Free,
	}
}

// ToolChecker verifies an external binary runs. Optional tools only degrade
// the service when missing.
type ToolChecker struct {
	name     string
	path     string
	args     []string
	optional bool
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewToolChecker(name, path string, optional bool, args ...string) *ToolChecker {
	if len(args) == 0 {
		args = []string{"-version"}
	}
	return &ToolChecker{
		name:     name,
		path:     path,
		args:     args,
		optional: optional,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

func (t *ToolChecker) Name() string {
	return t.name
}

func (t *ToolChecker) Check(ctx context.Context) error {
	err := t.probe(ctx)
	if err != nil && t.optional {
		return Degraded(err)
	}
	return err
}

func (t *ToolChecker) probe(ctx context.Context) error {
	if t.path == "" {
		return fmt.Errorf("%s not configured", t.name)
	}
	if _, err := exec.LookPath(t.path); err != nil {
		return fmt.Errorf("%s not found: %w", t.name, err)
	}
	out, err := t.run(ctx, t.path, t.args...)
	if err != nil {
		return fmt.Errorf("%s did not run: %w", t.name, err)
	}
	if strings.TrimSpace(string(out)) == "" {
		return fmt.Errorf("%s printed no version", t.name)
	}
	return nil
}

// PingChecker adapts a ping function, such as the history store's or the
// detector service's.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (p *PingChecker) Name() string {
	return p.name
}

func (p *PingChecker) Check(ctx context.Context) error {
	return p.ping(ctx)
}
