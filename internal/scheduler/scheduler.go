// Package scheduler runs the periodic digest and retention purge jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/setevik/sosdesk/internal/config"
	"github.com/setevik/sosdesk/internal/notifier"
	"github.com/setevik/sosdesk/internal/store"
)

// SendFunc delivers a digest message.
type SendFunc func(ctx context.Context, url, title, body string) error

// Scheduler owns a cron runner with the digest and purge jobs registered.
type Scheduler struct {
	cfg  *config.Config
	db   *store.DB
	loc  *time.Location
	send SendFunc
	now  func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. Jobs with an empty schedule are not registered.
func New(cfg *config.Config, db *store.DB) (*Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:  cfg,
		db:   db,
		loc:  loc,
		send: notifier.SendDigest,
		now:  time.Now,
	}

	logger := cronLogger{}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if spec := cfg.Digest.Schedule; spec != "" {
		if _, err := s.cron.AddFunc(spec, func() { s.runJob("digest", s.Digest) }); err != nil {
			return nil, fmt.Errorf("invalid digest schedule %q: %w", spec, err)
		}
	}
	if spec := cfg.DB.PurgeSchedule; spec != "" && cfg.DB.Retention.Duration > 0 {
		if _, err := s.cron.AddFunc(spec, func() { s.runJob("purge", s.Purge) }); err != nil {
			return nil, fmt.Errorf("invalid purge schedule %q: %w", spec, err)
		}
	}

	return s, nil
}

// Start begins running jobs in the background. Jobs receive a context that
// is cancelled by Stop or when ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts the scheduler and waits for running jobs to finish, or for ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		slog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled jobs: %w", ctx.Err())
	}
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}

func (s *Scheduler) runJob(name string, job func(context.Context) error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	if err := job(ctx); err != nil {
		slog.Error("scheduled job failed", "job", name, "error", err)
		return
	}
	slog.Debug("scheduled job finished", "job", name, "duration", time.Since(start))
}

// Digest builds the digest for the configured window ending now and sends
// it to the digest topic. Nothing is sent when no topic is configured.
func (s *Scheduler) Digest(ctx context.Context) error {
	topic := s.cfg.DigestTopic()
	if topic == "" {
		slog.Debug("no ntfy URL configured for digest, skipping")
		return nil
	}

	until := s.now().In(s.loc)
	since := until.Add(-s.cfg.Digest.Window.Duration)

	incs, err := s.db.Query(store.QueryFilter{Since: since, Until: until})
	if err != nil {
		return fmt.Errorf("querying incidents for digest: %w", err)
	}

	d := notifier.BuildDigest(s.cfg.Society.Name, incs, since, until)
	d.Location = s.loc

	if err := s.send(ctx, topic, notifier.FormatDigestTitle(d), notifier.FormatDigest(d)); err != nil {
		return fmt.Errorf("sending digest: %w", err)
	}
	slog.Info("digest sent", "incidents", d.Total, "since", since, "until", until)
	return nil
}

// Purge removes attended incidents older than the retention period.
func (s *Scheduler) Purge(ctx context.Context) error {
	n, err := s.db.Purge(s.cfg.DB.Retention.Duration)
	if err != nil {
		return fmt.Errorf("purging incidents: %w", err)
	}
	if n > 0 {
		slog.Info("purged old incidents", "count", n, "retention", s.cfg.DB.Retention.Duration)
	}
	return nil
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
