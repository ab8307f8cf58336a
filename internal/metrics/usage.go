package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// DefaultUsageInterval is the sampling period of a UsageCollector.
const DefaultUsageInterval = 5 * time.Second

// Usage is one resource sample of a daemon's leader process.
type Usage struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	SampledAt  time.Time `json:"sampled_at"`
}

// UsageCollector periodically samples CPU and memory of active daemons.
type UsageCollector struct {
	interval time.Duration
	log      *slog.Logger

	mu     sync.RWMutex
	latest map[string]Usage

	cpu *prometheus.GaugeVec
	rss *prometheus.GaugeVec

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewUsageCollector(interval time.Duration, log *slog.Logger) *UsageCollector {
	if interval <= 0 {
		interval = DefaultUsageInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &UsageCollector{
		interval: interval,
		log:      log,
		latest:   make(map[string]Usage),
		stopCh:   make(chan struct{}),
		cpu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "legion",
			Subsystem: "daemon",
			Name:      "cpu_percent",
			Help:      "CPU usage of the daemon leader process.",
		}, []string{"name"}),
		rss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "legion",
			Subsystem: "daemon",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the daemon leader process.",
		}, []string{"name"}),
	}
}

// RegisterMetrics registers the usage gauges with r.
func (c *UsageCollector) RegisterMetrics(r prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.cpu, c.rss} {
		if err := r.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples the pids returned by active every interval until ctx is
// done or Stop is called.
func (c *UsageCollector) Start(ctx context.Context, active func() map[string]int) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-t.C:
				c.Collect(active())
			}
		}
	}()
}

func (c *UsageCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample of every pid in pids and forgets daemons that are
// no longer listed.
func (c *UsageCollector) Collect(pids map[string]int) {
	now := time.Now()
	next := make(map[string]Usage, len(pids))
	for name, pid := range pids {
		u, err := sample(pid, now)
		if err != nil {
			c.log.Debug("usage sample failed", "daemon", name, "pid", pid, "error", err)
			continue
		}
		next[name] = u
		c.cpu.WithLabelValues(name).Set(u.CPUPercent)
		c.rss.WithLabelValues(name).Set(float64(u.MemoryRSS))
	}

	c.mu.Lock()
	for name := range c.latest {
		if _, ok := next[name]; !ok {
			c.cpu.DeleteLabelValues(name)
			c.rss.DeleteLabelValues(name)
		}
	}
	c.latest = next
	c.mu.Unlock()
}

// Latest returns the most recent sample for name.
func (c *UsageCollector) Latest(name string) (Usage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.latest[name]
	return u, ok
}

func sample(pid int, at time.Time) (Usage, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, err
	}
	u := Usage{PID: pid, SampledAt: at}
	if u.CPUPercent, err = p.CPUPercent(); err != nil {
		return Usage{}, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, err
	}
	u.MemoryRSS = mem.RSS
	if n, err := p.NumThreads(); err == nil {
		u.NumThreads = n
	}
	return u, nil
}
