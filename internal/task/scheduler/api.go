package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "otpbot/pkg/logx"
)

var ErrNotFound = errors.New("schedule not found")

// AddSchedule registers (or replaces) a job under name using any format ParseSchedule accepts.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	return s.add(name, ps.CronSpec(), timeout, job)
}

func (s *Service) add(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("name required")
	}
	if job == nil {
		return "", fmt.Errorf("job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("parse %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(name)
	def := scheduleDef{
		id:      uuid.NewString(),
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		state:   &runState{},
	}
	if err := s.addCronLocked(&def); err != nil {
		return "", err
	}
	s.defs = append(s.defs, def)
	s.log.Info("schedule registered", logx.String("name", name), logx.String("spec", spec))
	return def.id, nil
}

// Remove unregisters the job with name. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.removeLocked(strings.TrimSpace(name))
	if ok {
		s.log.Info("schedule removed", logx.String("name", name))
	}
	return ok
}

// Has reports whether a job is registered under name.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexLocked(strings.TrimSpace(name)) >= 0
}

// RunNow executes the named job synchronously, honoring the overlap guard.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	i := s.indexLocked(strings.TrimSpace(name))
	if i < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	def := s.defs[i]
	s.mu.Unlock()
	return s.run(ctx, def)
}

func (s *Service) indexLocked(name string) int {
	for i := range s.defs {
		if s.defs[i].name == name {
			return i
		}
	}
	return -1
}

func (s *Service) removeLocked(name string) bool {
	i := s.indexLocked(name)
	if i < 0 {
		return false
	}
	if s.c != nil && s.defs[i].entryID != 0 {
		s.c.Remove(s.defs[i].entryID)
	}
	s.defs = append(s.defs[:i], s.defs[i+1:]...)
	return true
}

func (s *Service) addCronLocked(def *scheduleDef) error {
	if s.c == nil {
		return nil
	}
	d := *def
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	id, err := s.c.AddFunc(d.spec, func() { _ = s.run(ctx, d) })
	if err != nil {
		return fmt.Errorf("add %q: %w", d.name, err)
	}
	def.entryID = id
	return nil
}

func (s *Service) run(ctx context.Context, def scheduleDef) error {
	def.state.mu.Lock()
	if def.state.running {
		def.state.mu.Unlock()
		s.record(HistoryItem{Name: def.name, Started: time.Now(), Skipped: true})
		s.log.Debug("run skipped, previous still running", logx.String("name", def.name))
		return nil
	}
	def.state.running = true
	def.state.mu.Unlock()

	s.runWG.Add(1)
	defer func() {
		def.state.mu.Lock()
		def.state.running = false
		def.state.mu.Unlock()
		s.runWG.Done()
	}()

	if def.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.timeout)
		defer cancel()
	}

	start := time.Now()
	err := safeRun(ctx, def.job)
	item := HistoryItem{Name: def.name, Started: start, Duration: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("run failed", logx.String("name", def.name), logx.Err(err))
	}
	s.record(item)
	return err
}

func safeRun(ctx context.Context, job func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx)
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if n := s.historySize; n > 0 && len(s.history) > n {
		s.history = append([]HistoryItem(nil), s.history[len(s.history)-n:]...)
	}
}
