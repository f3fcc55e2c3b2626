package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"otpbot/internal/config"
	"otpbot/internal/coordinator"
	"otpbot/internal/csp"
	"otpbot/internal/detector"
	"otpbot/internal/eventbus"
	"otpbot/internal/httpapi"
	"otpbot/internal/httpserver"
	"otpbot/internal/notify"
	"otpbot/internal/proxy"
	rtsup "otpbot/internal/runtime/supervisor"
	"otpbot/internal/storage"
	"otpbot/internal/task/scheduler"
	logx "otpbot/pkg/logx"
	"otpbot/pkg/systemd"
)

// App owns every long-lived component of the daemon.
type App struct {
	cfgm *config.ConfigManager
	logs *logx.Service
	log  logx.Logger

	store storage.Store
	bus   eventbus.Bus
	sched *scheduler.Service
	sec   *csp.Interceptor
	coord *coordinator.Coordinator
	notif *notify.Notifier

	apiHandler swapHandler
	api        *httpserver.Service
	proxy      *httpserver.Service

	mu      sync.Mutex
	watches map[string]*watch

	sup *rtsup.Supervisor
}

type watch struct {
	target config.WatchTarget
	det    *detector.Detector
	cancel context.CancelFunc
}

// swapHandler lets a config reload replace the API routes (token, rate limit,
// pprof) without restarting the listener.
type swapHandler struct {
	h atomic.Pointer[http.Handler]
}

func (s *swapHandler) Store(h http.Handler) { s.h.Store(&h) }

func (s *swapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := s.h.Load()
	if p == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	(*p).ServeHTTP(w, r)
}

// New loads the config at cfgPath and constructs (but does not start) the daemon.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.NewService(cfg.Logging.ToLogx())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()
	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, log.With(logx.String("comp", "scheduler")))
	sec := csp.NewInterceptor()

	coord := coordinator.New(coordinator.Deps{
		Store:     store,
		Bus:       bus,
		Scheduler: sched,
		Security:  sec,
		Log:       log,
	}, coordinator.Options{
		MaxEntries:    cfg.Coordinator.MaxEntries,
		Retention:     cfg.Coordinator.RetentionDuration(),
		SweepSchedule: cfg.Coordinator.SweepSchedule(),
	})

	a := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		store:   store,
		bus:     bus,
		sched:   sched,
		sec:     sec,
		coord:   coord,
		watches: map[string]*watch{},
	}

	a.apiHandler.Store(httpapi.New(coord, bus, mapAPIOptions(cfg), log).Handler())
	apiCfg, err := mapServerConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	a.api = httpserver.New(apiCfg, &a.apiHandler, log)

	proxyCfg, err := mapProxyConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	a.proxy = httpserver.New(proxyCfg, proxy.Handler(sec, nil, log.With(logx.String("comp", "proxy"))), log)

	if tg := cfg.Telegram; strings.TrimSpace(tg.Token) != "" && tg.ChatID != 0 {
		sender, err := notify.NewTelegram(tg.Token, tg.ChatID)
		if err != nil {
			log.Warn("telegram notifications disabled", logx.Err(err))
		} else {
			a.notif = notify.New(bus, sender, notify.Options{RatePerSec: tg.RatePerSec, Settings: coord.Settings, Entries: coord.Entries}, log)
		}
	}
	return a, nil
}

func (a *App) Config() *config.Config                { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger                   { return a.log }
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }
func (a *App) Scheduler() *scheduler.Service         { return a.sched }

// APIAddr returns the bound API address, or "" when the listener is down.
func (a *App) APIAddr() string { return a.api.Addr() }

// ProxyAddr returns the bound proxy address, or "" when the proxy is disabled.
func (a *App) ProxyAddr() string { return a.proxy.Addr() }

// Done is closed when the app's run context ends (Stop or a fatal error).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapServerConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	runCtx := a.sup.Context()
	if err := a.coord.Initialize(runCtx); err != nil {
		return err
	}
	a.sup.Go("coordinator", a.coord.Run)
	a.sched.Start(runCtx)

	a.api.Start(runCtx)
	cfg := a.cfgm.Get()
	if cfg.Proxy.Enabled {
		a.proxy.Start(runCtx)
	}
	if a.notif != nil {
		a.sup.Go("notify", a.notif.Run)
	}
	a.reconcileWatches(cfg.Detector)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				systemd.Reloading(func() { a.applyConfig(c, lastApplied, newCfg) })
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", systemd.Watchdog)

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		_, _ = systemd.Status("serving")
	}
	a.log.Info("app started",
		logx.String("storage", cfg.Storage.Driver),
		logx.Bool("proxy", cfg.Proxy.Enabled),
		logx.Bool("telegram", a.notif != nil),
		logx.Int("watches", len(cfg.Detector.Watch)),
		logx.Int64("tasks", a.sup.Counters().Active),
	)
	return nil
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(next.Logging.ToLogx())
	a.sched.Apply(scheduler.Config{Timezone: next.Scheduler.Timezone})

	a.apiHandler.Store(httpapi.New(a.coord, a.bus, mapAPIOptions(next), a.log).Handler())
	if sc, err := mapServerConfig(next); err != nil {
		a.log.Warn("invalid server config; keeping previous", logx.Err(err))
	} else {
		a.api.Reconfigure(ctx, sc)
	}

	if pc, err := mapProxyConfig(next); err != nil {
		a.log.Warn("invalid proxy config; keeping previous", logx.Err(err))
	} else {
		if !next.Proxy.Enabled && a.proxy.Running() {
			a.log.Info("proxy disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			a.proxy.Stop(stopCtx)
			cancel()
		}
		a.proxy.Reconfigure(ctx, pc)
		if next.Proxy.Enabled && !a.proxy.Running() {
			a.log.Info("proxy enabled via config")
			a.proxy.Start(ctx)
		}
	}

	a.reconcileWatches(next.Detector)

	for _, s := range sections {
		switch s {
		case "storage", "coordinator", "telegram":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func watchKey(t config.WatchTarget) string {
	p := strings.TrimSpace(t.Path)
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return p + "|" + strings.TrimSpace(t.URL)
}

// reconcileWatches starts detectors for new targets and shuts down removed
// ones. A debounce change restarts every detector.
func (a *App) reconcileWatches(dc config.DetectorConfig) {
	debounce := dc.DebounceDuration()

	a.mu.Lock()
	defer a.mu.Unlock()

	want := make(map[string]config.WatchTarget, len(dc.Watch))
	for _, t := range dc.Watch {
		want[watchKey(t)] = t
	}
	for key, w := range a.watches {
		if _, ok := want[key]; ok && w.det.Debounce() == debounce {
			continue
		}
		w.cancel()
		delete(a.watches, key)
		a.log.Info("watch removed", logx.String("path", w.target.Path))
	}
	for key, t := range want {
		if _, ok := a.watches[key]; ok {
			continue
		}
		a.startWatchLocked(key, t, debounce)
	}
}

func (a *App) startWatchLocked(key string, t config.WatchTarget, debounce time.Duration) {
	ctx, cancel := context.WithCancel(a.sup.Context())
	log := a.log.With(logx.String("path", t.Path))
	doc := detector.NewFileDocument(t.Path, t.URL, log)
	det := detector.New(doc, detector.SinkFunc(a.coord.RecordDetection), detector.Options{
		Debounce: debounce,
		Settings: a.coord.Settings,
		Log:      log,
	})
	a.watches[key] = &watch{target: t, det: det, cancel: cancel}

	// A missing file or directory disables this target only.
	a.sup.Go0("detector."+t.Path, func(context.Context) {
		if err := det.Run(ctx); err != nil {
			log.Warn("watch failed", logx.Err(err))
		}
	})
	a.log.Info("watch added", logx.String("path", t.Path), logx.String("url", doc.URL()))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("detectors", 2*time.Second, func(context.Context) error {
		a.mu.Lock()
		for key, w := range a.watches {
			w.cancel()
			delete(a.watches, key)
		}
		a.mu.Unlock()
		return nil
	})
	step("api", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("proxy", 2*time.Second, func(c context.Context) error { a.proxy.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// Wait for the coordinator mailbox before closing the store it writes to.
	step("supervisor", 3*time.Second, a.sup.Stop)
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
