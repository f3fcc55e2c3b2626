package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"otpbot/internal/eventbus"
	"otpbot/internal/otp"
	"otpbot/internal/storage"
	logx "otpbot/pkg/logx"
)

// SweepTaskName is the scheduler name of the auto-clear sweep. Registration
// upserts by name, so re-enabling auto-clear never adds a second timer.
const SweepTaskName = "coordinator.autoclear"

const (
	DefaultRetention     = time.Hour
	DefaultSweepSchedule = "5m"

	sweepTimeout = time.Minute
)

var (
	ErrStopped        = errors.New("coordinator stopped")
	ErrNotRunning     = errors.New("coordinator not running")
	ErrEntryNotFound  = errors.New("entry not found")
	ErrMissingPayload = errors.New("settings required")
)

// Scheduler installs and removes the periodic sweep.
type Scheduler interface {
	AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

// Security toggles the response-header policy.
type Security interface {
	Install()
	Uninstall()
}

type Deps struct {
	Store     storage.Store
	Bus       eventbus.Bus
	Scheduler Scheduler // optional
	Security  Security  // optional
	Log       logx.Logger
	Now       func() time.Time
	NewID     func() string
}

type Options struct {
	MaxEntries int
	Retention  time.Duration
	// SweepSchedule is a cron expression, descriptor, duration or HH:MM interval.
	SweepSchedule string
	QueueSize     int
}

type request struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	err  error
	done chan struct{}
}

type Coordinator struct {
	deps Deps
	opts Options
	log  logx.Logger

	reqs     chan *request
	running  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}

	// mu guards the snapshots below; only the mailbox goroutine writes them.
	mu       sync.RWMutex
	entries  []otp.Entry
	settings otp.Settings

	lastPublish atomic.Value // eventbus.Outcome
}

func New(deps Deps, opts Options) *Coordinator {
	if deps.Store == nil {
		deps.Store = storage.NewMemory()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = otp.MaxEntries
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if strings.TrimSpace(opts.SweepSchedule) == "" {
		opts.SweepSchedule = DefaultSweepSchedule
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Coordinator{
		deps:     deps,
		opts:     opts,
		log:      deps.Log.With(logx.String("comp", "coordinator")),
		reqs:     make(chan *request, opts.QueueSize),
		stopped:  make(chan struct{}),
		settings: otp.DefaultSettings(),
	}
}

// Initialize loads persisted state and re-applies the persisted settings effects.
// It must be called before Run.
func (c *Coordinator) Initialize(ctx context.Context) error {
	entries, err := c.deps.Store.LoadEntries(ctx)
	if err != nil {
		return fmt.Errorf("load entry list: %w", err)
	}
	settings, found, err := c.deps.Store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !found {
		settings = otp.DefaultSettings()
	}
	if len(entries) > c.opts.MaxEntries {
		entries = entries[:c.opts.MaxEntries]
	}

	c.mu.Lock()
	c.entries = otp.Clone(entries)
	c.settings = settings
	c.mu.Unlock()

	c.applyEffects(settings)
	c.log.Info("coordinator initialized",
		logx.Int("entries", len(entries)),
		logx.Bool("settings_found", found),
		logx.Bool("auto_clear", settings.AutoClear),
		logx.Bool("enhanced_security", settings.EnhancedSecurity),
	)
	return nil
}

// Running reports whether the mailbox loop is accepting requests.
func (c *Coordinator) Running() bool {
	if !c.running.Load() {
		return false
	}
	select {
	case <-c.stopped:
		return false
	default:
		return true
	}
}

// Run processes requests one at a time until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator already running")
	}
	defer c.stopOnce.Do(func() { close(c.stopped) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-c.reqs:
			r.err = c.process(r)
			close(r.done)
		}
	}
}

func (c *Coordinator) process(r *request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("coordinator panic: %v", p)
			c.log.Error("request panicked", logx.Err(err))
		}
	}()
	if err := r.ctx.Err(); err != nil {
		return err
	}
	return r.fn(r.ctx)
}

// call runs fn on the mailbox goroutine and waits for it to finish.
func (c *Coordinator) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !c.running.Load() {
		return ErrNotRunning
	}
	r := &request{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case c.reqs <- r:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case <-r.done:
		return r.err
	case <-c.stopped:
		return ErrStopped
	}
}

// Handle dispatches one inbound message. It never panics; failures become
// {success:false, error}.
func (c *Coordinator) Handle(ctx context.Context, msg Message) Response {
	var err error
	switch msg.Type {
	case TypeOTPDetected:
		err = c.RecordDetection(ctx, msg.Event())
	case TypeSettingsUpdated:
		if msg.Settings == nil {
			err = ErrMissingPayload
			break
		}
		err = c.ApplySettings(ctx, *msg.Settings)
	case TypeClearOTPs:
		err = c.ClearAll(ctx)
	case TypeOTPCopied:
		err = c.Acknowledge(ctx, msg.ID)
	default:
		c.log.Debug("unknown message type", logx.String("type", msg.Type))
		return Response{Success: false, Error: unknownTypeError}
	}
	if err != nil {
		return failure(err)
	}
	return Response{Success: true}
}

// RecordDetection prepends a validated entry, caps the list and persists it in
// one write. On a failed write the in-memory list is left unchanged.
func (c *Coordinator) RecordDetection(ctx context.Context, ev otp.Event) error {
	if !otp.IsValidCode(ev.Code) {
		return fmt.Errorf("%w: %q", otp.ErrInvalidCode, ev.Code)
	}
	return c.call(ctx, func(ctx context.Context) error {
		at := ev.ObservedAt
		if at.IsZero() {
			at = c.deps.Now()
		}
		entry := otp.Entry{ID: c.deps.NewID(), Code: ev.Code, SourceURL: ev.SourceURL, ObservedAt: at}
		next := otp.Prepend(c.currentEntries(), entry, c.opts.MaxEntries)
		if err := c.commitEntries(ctx, next); err != nil {
			c.log.Error("record detection failed", logx.String("url", ev.SourceURL), logx.Err(err))
			return err
		}
		c.log.Info("otp recorded", logx.String("id", entry.ID), logx.String("url", ev.SourceURL), logx.Int("entries", len(next)))
		return nil
	})
}

// ApplySettings validates and persists settings, then installs or removes the
// sweep and the header policy to match. Invalid settings leave the prior ones in place.
func (c *Coordinator) ApplySettings(ctx context.Context, s otp.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return c.call(ctx, func(ctx context.Context) error {
		if err := c.deps.Store.SaveSettings(ctx, s); err != nil {
			c.log.Error("persist settings failed", logx.Err(err))
			return fmt.Errorf("persist settings: %w", err)
		}
		c.mu.Lock()
		c.settings = s
		c.mu.Unlock()

		c.applyEffects(s)
		out := c.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeSettingsUpdated, Data: s})
		c.notePublish(eventbus.TypeSettingsUpdated, out)
		c.log.Info("settings applied",
			logx.Bool("capture", s.CaptureEnabled),
			logx.Bool("auto_clear", s.AutoClear),
			logx.Bool("enhanced_security", s.EnhancedSecurity),
		)
		return nil
	})
}

func (c *Coordinator) applyEffects(s otp.Settings) {
	if c.deps.Scheduler != nil {
		if s.AutoClear {
			if _, err := c.deps.Scheduler.AddSchedule(SweepTaskName, c.opts.SweepSchedule, sweepTimeout, c.sweepJob); err != nil {
				c.log.Error("install auto-clear failed", logx.Err(err))
			}
		} else if c.deps.Scheduler.Remove(SweepTaskName) {
			c.log.Info("auto-clear removed")
		}
	}
	if c.deps.Security != nil {
		if s.EnhancedSecurity {
			c.deps.Security.Install()
		} else {
			c.deps.Security.Uninstall()
		}
	}
}

func (c *Coordinator) sweepJob(ctx context.Context) error {
	_, err := c.Sweep(ctx)
	return err
}

// Sweep drops entries observed at or before now-retention and persists the
// result when anything was removed.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	removed := 0
	err := c.call(ctx, func(ctx context.Context) error {
		kept, n := otp.Expire(c.currentEntries(), c.deps.Now(), c.opts.Retention)
		if n == 0 {
			return nil
		}
		if err := c.commitEntries(ctx, kept); err != nil {
			c.log.Error("auto-clear sweep failed", logx.Err(err))
			return err
		}
		removed = n
		c.log.Info("auto-clear swept entries", logx.Int("removed", n), logx.Int("kept", len(kept)))
		return nil
	})
	return removed, err
}

// ClearAll empties and persists the list unconditionally.
func (c *Coordinator) ClearAll(ctx context.Context) error {
	return c.call(ctx, func(ctx context.Context) error {
		if err := c.commitEntries(ctx, []otp.Entry{}); err != nil {
			c.log.Error("clear entries failed", logx.Err(err))
			return err
		}
		c.log.Info("entries cleared")
		return nil
	})
}

// Acknowledge marks the entry with id as copied.
func (c *Coordinator) Acknowledge(ctx context.Context, id string) error {
	return c.call(ctx, func(ctx context.Context) error {
		next, ok := otp.Acknowledge(c.currentEntries(), id)
		if !ok {
			return fmt.Errorf("%w: %q", ErrEntryNotFound, id)
		}
		return c.commitEntries(ctx, next)
	})
}

// commitEntries persists next and only then swaps it in and notifies observers.
func (c *Coordinator) commitEntries(ctx context.Context, next []otp.Entry) error {
	if err := c.deps.Store.SaveEntries(ctx, next); err != nil {
		return fmt.Errorf("persist entry list: %w", err)
	}
	c.mu.Lock()
	c.entries = next
	c.mu.Unlock()

	out := c.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeListUpdated, Data: otp.Clone(next)})
	c.notePublish(eventbus.TypeListUpdated, out)
	return nil
}

func (c *Coordinator) notePublish(typ string, out eventbus.Outcome) {
	c.lastPublish.Store(out)
	switch {
	case out.NoSubscribers():
		c.log.Debug("no observers for notification", logx.String("type", typ))
	case out.Dropped > 0:
		c.log.Warn("notification dropped by slow observer", logx.String("type", typ), logx.String("outcome", out.String()))
	}
}

// LastPublish returns the outcome of the most recent notification.
func (c *Coordinator) LastPublish() eventbus.Outcome {
	out, _ := c.lastPublish.Load().(eventbus.Outcome)
	return out
}

func (c *Coordinator) currentEntries() []otp.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries
}

// Entries returns a copy of the current list, newest first.
func (c *Coordinator) Entries() []otp.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return otp.Clone(c.entries)
}

func (c *Coordinator) Settings() otp.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}
