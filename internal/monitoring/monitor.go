// Package monitoring samples host CPU and memory usage into a run while a
// node executes.
package monitoring

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/spachava753/kedro-neptune/internal/tracking"
)

const DefaultInterval = time.Second

// Sample is one reading of host utilisation, in percent.
type Sample struct {
	CPU    float64
	Memory float64
}

// SampleFunc takes a reading.
type SampleFunc func(ctx context.Context) (Sample, error)

// SystemSample reads the host's CPU and virtual memory usage.
func SystemSample(ctx context.Context) (Sample, error) {
	var s Sample
	perc, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return s, err
	}
	if len(perc) > 0 {
		s.CPU = perc[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, err
	}
	if vm != nil {
		s.Memory = vm.UsedPercent
	}
	return s, nil
}

// Options configures Start. Zero values select DefaultInterval and
// SystemSample.
type Options struct {
	Interval time.Duration
	Sample   SampleFunc
}

// Monitor appends samples to <ns>/cpu and <ns>/memory until stopped.
type Monitor struct {
	ns     tracking.Namespace
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start takes a first sample, records the hostname under <ns>/hostname and
// keeps sampling in the background at the configured interval.
func Start(ctx context.Context, ns tracking.Namespace, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Sample == nil {
		opts.Sample = SystemSample
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &Monitor{ns: ns, cancel: cancel, done: make(chan struct{})}

	if hi, err := host.InfoWithContext(ctx); err == nil && hi != nil {
		if err := ns.Child("hostname").Assign(ctx, hi.Hostname); err != nil {
			slog.Debug("recording hostname failed", "namespace", ns.Path(), "error", err)
		}
	}
	m.record(ctx, opts.Sample)

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.record(ctx, opts.Sample)
			}
		}
	}()

	return m
}

func (m *Monitor) record(ctx context.Context, sample SampleFunc) {
	s, err := sample(ctx)
	if err != nil {
		slog.Debug("hardware sample failed", "namespace", m.ns.Path(), "error", err)
		return
	}
	if err := m.ns.Child("cpu").Append(ctx, s.CPU); err != nil {
		slog.Debug("recording cpu failed", "namespace", m.ns.Path(), "error", err)
	}
	if err := m.ns.Child("memory").Append(ctx, s.Memory); err != nil {
		slog.Debug("recording memory failed", "namespace", m.ns.Path(), "error", err)
	}
}

// Stop ends sampling and waits for the background goroutine. It is safe to
// call more than once.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		m.cancel()
		<-m.done
	})
}
