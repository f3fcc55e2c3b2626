package detector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"otpbot/internal/otp"
	logx "otpbot/pkg/logx"
)

const DefaultDebounce = 500 * time.Millisecond

// Sink relays detection events to the coordinator.
type Sink interface {
	Emit(ctx context.Context, ev otp.Event) error
}

type SinkFunc func(ctx context.Context, ev otp.Event) error

func (f SinkFunc) Emit(ctx context.Context, ev otp.Event) error { return f(ctx, ev) }

type Options struct {
	Debounce time.Duration
	// Settings returns the current settings; nil means otp.DefaultSettings.
	Settings func() otp.Settings
	Now      func() time.Time
	Log      logx.Logger
}

// ScanResult describes one scan cycle.
type ScanResult struct {
	Skipped bool // another scan was in progress, or capture is disabled
	Matches int
	Emitted int
	Err     error
}

type Detector struct {
	doc  Document
	sink Sink
	opts Options
	log  logx.Logger

	scanning atomic.Bool

	mu         sync.Mutex
	gen        uint64 // bumped by Shutdown; scans from an older lifetime report nothing
	seen       map[string]struct{}
	debouncer  *Debouncer
	disconnect func()
	ctx        context.Context
	cancel     context.CancelFunc
}

func New(doc Document, sink Sink, opts Options) *Detector {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Settings == nil {
		opts.Settings = otp.DefaultSettings
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{
		doc:  doc,
		sink: sink,
		opts: opts,
		log:  log.With(logx.String("comp", "detector"), logx.String("url", doc.URL())),
		seen: map[string]struct{}{},
	}
}

// Initialize attaches the change hook and runs one immediate scan. Calling it
// after Shutdown starts a new document lifetime.
func (d *Detector) Initialize(ctx context.Context) error {
	d.mu.Lock()
	if d.debouncer != nil {
		d.mu.Unlock()
		return fmt.Errorf("detector already initialized")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.debouncer = NewDebouncer(d.opts.Debounce, func() { d.Scan(d.runContext()) })
	deb := d.debouncer
	d.mu.Unlock()

	disconnect, err := d.doc.Observe(deb.Trigger)
	if err != nil {
		d.Shutdown()
		return fmt.Errorf("observe document: %w", err)
	}
	d.mu.Lock()
	d.disconnect = disconnect
	d.mu.Unlock()

	d.log.Debug("detector initialized", logx.Duration("debounce", d.opts.Debounce))
	if res := d.Scan(d.runContext()); res.Skipped {
		// a scan from the previous lifetime may still hold the guard
		deb.Trigger()
	}
	return nil
}

func (d *Detector) runContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return context.Background()
	}
	return d.ctx
}

// OnDocumentChanged schedules a debounced scan.
func (d *Detector) OnDocumentChanged() {
	d.mu.Lock()
	deb := d.debouncer
	d.mu.Unlock()
	if deb != nil {
		deb.Trigger()
	}
}

// Debounce returns the quiet period between a change and its scan.
func (d *Detector) Debounce() time.Duration { return d.opts.Debounce }

// Pending reports whether a debounced scan is waiting to fire.
func (d *Detector) Pending() bool {
	d.mu.Lock()
	deb := d.debouncer
	d.mu.Unlock()
	return deb != nil && deb.Pending()
}

// Scan extracts candidate tokens from the current text and emits each valid,
// unseen code once. Overlapping calls are skipped. Failures are logged and
// reported in the result; they never propagate as panics.
func (d *Detector) Scan(ctx context.Context) (res ScanResult) {
	if !d.scanning.CompareAndSwap(false, true) {
		d.log.Trace("scan skipped, previous still running")
		return ScanResult{Skipped: true}
	}
	defer d.scanning.Store(false)
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("scan panic: %v", r)
			d.log.Error("scan failed", logx.Err(res.Err))
		}
	}()

	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()

	settings := d.opts.Settings()
	if !settings.CaptureEnabled {
		return ScanResult{Skipped: true}
	}
	m, err := otp.NewMatcher(settings.CustomPattern)
	if err != nil {
		d.log.Warn("scan skipped, pattern rejected", logx.Err(err))
		return ScanResult{Err: err}
	}

	text, err := d.doc.Text(ctx)
	if err != nil {
		d.log.Warn("scan failed", logx.Err(err))
		return ScanResult{Err: err}
	}

	candidates := m.FindAll(text)
	res.Matches = len(candidates)
	for _, code := range candidates {
		if !otp.IsValidCode(code) || !d.markSeen(gen, code) {
			continue
		}
		ev := otp.Event{Code: code, SourceURL: d.doc.URL(), ObservedAt: d.opts.Now()}
		if err := d.sink.Emit(ctx, ev); err != nil {
			// not retried: the code stays marked for this lifetime
			d.log.Warn("detection relay failed", logx.Secret("code", code), logx.Err(err))
			res.Err = err
			continue
		}
		res.Emitted++
		d.log.Info("otp detected", logx.Secret("code", code))
	}
	return res
}

func (d *Detector) markSeen(gen uint64, code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		return false
	}
	if _, ok := d.seen[code]; ok {
		return false
	}
	d.seen[code] = struct{}{}
	return true
}

// Reported returns the codes already reported in this lifetime, sorted.
func (d *Detector) Reported() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.seen))
	for c := range d.seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Shutdown detaches the change hook, cancels any pending scan and forgets reported codes.
func (d *Detector) Shutdown() {
	d.mu.Lock()
	deb, disconnect, cancel := d.debouncer, d.disconnect, d.cancel
	d.debouncer, d.disconnect, d.cancel = nil, nil, nil
	d.gen++
	d.seen = map[string]struct{}{}
	d.mu.Unlock()

	if deb != nil {
		deb.Stop()
	}
	if disconnect != nil {
		disconnect()
	}
	if cancel != nil {
		cancel()
	}
	d.log.Debug("detector shut down")
}

// Run initializes the detector, blocks until ctx is done, then shuts it down.
func (d *Detector) Run(ctx context.Context) error {
	if err := d.Initialize(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Shutdown()
	return nil
}
