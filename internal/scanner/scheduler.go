package scanner

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultCeiling  = 60 * time.Second
)

// Scheduler runs scan passes on a fixed cadence and backs off
// multiplicatively when passes fail, so a broken dependency is not
// hammered. The delay doubles per consecutive failure up to the ceiling
// and snaps back to the base interval on the first success.
type Scheduler struct {
	scanner  *Scanner
	interval time.Duration
	ceiling  time.Duration
	logger   *slog.Logger

	consecutiveFailures int
}

func NewScheduler(s *Scanner, interval, ceiling time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if ceiling < interval {
		ceiling = DefaultCeiling
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{scanner: s, interval: interval, ceiling: ceiling, logger: logger}
}

// Run blocks until ctx is cancelled, scanning once per delay period.
func (sc *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(sc.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		report, err := sc.scanner.Scan(ctx)
		if sc.scanner.metrics != nil {
			sc.scanner.metrics.ScanDuration.Observe(time.Since(start).Seconds())
		}
		if err != nil && ctx.Err() != nil {
			return
		}
		sc.recordOutcome(report, err)

		timer.Reset(sc.nextDelay())
	}
}

// recordOutcome folds one pass into the backoff state. A degraded pass
// (feed down or nothing but failures) counts like a failed one, so a
// broken dependency is not hammered at the base cadence.
func (sc *Scheduler) recordOutcome(report Report, err error) {
	switch {
	case err != nil:
		sc.consecutiveFailures++
		sc.logger.Error("scan pass failed", "error", err, "consecutive_failures", sc.consecutiveFailures)
	case report.Degraded():
		sc.consecutiveFailures++
		sc.logger.Warn("scan pass degraded",
			"checked", report.Checked,
			"unavailable", report.Unavailable,
			"errors", len(report.Errors),
			"consecutive_failures", sc.consecutiveFailures)
	default:
		sc.consecutiveFailures = 0
		if report.Executed > 0 || len(report.Errors) > 0 {
			sc.logger.Info("scan pass complete",
				"checked", report.Checked,
				"executed", report.Executed,
				"errors", len(report.Errors))
		}
	}
}

func (sc *Scheduler) nextDelay() time.Duration {
	delay := sc.interval
	for i := 0; i < sc.consecutiveFailures; i++ {
		delay *= 2
		if delay >= sc.ceiling {
			return sc.ceiling
		}
	}
	return delay
}
