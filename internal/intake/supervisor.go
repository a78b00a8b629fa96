package intake

import (
	"context"
	"log/slog"
	"time"
)

// SupervisedSource restarts a bridge whenever it exits, so a crashed or
// disconnected bridge does not end intake.
type SupervisedSource struct {
	factory     func() Source
	restartWait time.Duration
	maxFailures int
}

// NewSupervisedSource creates a supervised wrapper around a source factory.
// A new source is started restartWait after the previous one ends.
// maxFailures bounds consecutive unhealthy runs (0 means never give up); a
// run that delivered a signal or stayed up longer than restartWait is
// healthy and resets the count.
func NewSupervisedSource(factory func() Source, restartWait time.Duration, maxFailures int) *SupervisedSource {
	return &SupervisedSource{
		factory:     factory,
		restartWait: restartWait,
		maxFailures: maxFailures,
	}
}

// Signals returns one channel fed by successive sources. It is closed when
// ctx is cancelled or the source keeps failing past the limit.
func (s *SupervisedSource) Signals(ctx context.Context) (<-chan Signal, error) {
	out := make(chan Signal, 64)

	go func() {
		defer close(out)

		failures := 0
		for attempt := 1; ; attempt++ {
			healthy := s.run(ctx, out, attempt)
			if ctx.Err() != nil {
				return
			}

			if healthy {
				failures = 0
			} else {
				failures++
			}
			if s.maxFailures > 0 && failures >= s.maxFailures {
				slog.Error("intake source keeps failing, giving up", "failures", failures)
				return
			}

			slog.Warn("intake source stopped, restarting", "attempt", attempt, "failures", failures, "wait", s.restartWait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.restartWait):
			}
		}
	}()

	return out, nil
}

// run drives one source until it ends and reports whether the run was
// healthy.
func (s *SupervisedSource) run(ctx context.Context, out chan<- Signal, attempt int) bool {
	src := s.factory()
	defer src.Stop()

	started := time.Now()
	signals, err := src.Signals(ctx)
	if err != nil {
		slog.Error("failed to start intake source", "attempt", attempt, "error", err)
		return false
	}
	slog.Info("intake source started", "attempt", attempt)

	delivered := 0
	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return delivered > 0 || time.Since(started) > s.restartWait
			}
			select {
			case out <- sig:
				delivered++
			case <-ctx.Done():
				return true
			}
		case <-ctx.Done():
			return true
		}
	}
}

// Stop is a no-op; stopping is handled via context cancellation.
func (s *SupervisedSource) Stop() {}
