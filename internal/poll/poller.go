package poll

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultInterval     = 60 * time.Second
	DefaultCycleTimeout = 20 * time.Second
)

// Updater is one polling unit driven on a fixed interval.
type Updater interface {
	Name() string
	Update(ctx context.Context) error
}

// Poller invokes an Updater on a fixed interval, bounding each cycle by a
// timeout. A cycle that exceeds the timeout fails like any transport error.
type Poller struct {
	updater  Updater
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func New(updater Updater, interval, timeout time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultCycleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{updater: updater, interval: interval, timeout: timeout, logger: logger}
}

// Run drives the updater until the context is cancelled. The first cycle
// runs immediately.
func (p *Poller) Run(ctx context.Context) {
	p.runOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	name := p.updater.Name()
	start := time.Now()
	err := p.updater.Update(cycleCtx)
	cycleDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		cycleFailure.WithLabelValues(name).Inc()
		p.logger.Warn("update cycle failed", "updater", name, "error", err)
		return
	}
	cycleSuccess.WithLabelValues(name).Inc()
	lastSuccess.WithLabelValues(name).Set(float64(time.Now().Unix()))
}
