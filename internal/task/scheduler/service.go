package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "otpbot/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	return &Service{
		cfg:         cfg,
		log:         log,
		historySize: cfg.HistorySize,
		parser:      specParser,
	}
}

// Running reports whether Start has been called without a matching Stop.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Apply updates the config; a timezone change restarts cron with the same definitions.
// Runs still in flight on the replaced cron are awaited after the lock is released.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	s.hmu.Lock()
	s.historySize = cfg.HistorySize
	s.hmu.Unlock()
	var stopped context.Context
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		stopped = s.restartLocked()
	}
	s.mu.Unlock()

	if stopped != nil {
		<-stopped.Done()
	}
}

// Start starts cron triggering. Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering, cancels in-flight runs and waits for them (bounded by ctx).
// Definitions remain so they resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.runCancel
	s.runCancel = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop deadline reached with runs in flight")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// restartLocked replaces the cron instance and returns the old one's stop
// context. Callers must not wait on it while holding s.mu.
func (s *Service) restartLocked() context.Context {
	stopped := s.c.Stop()
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()))
	return stopped
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
