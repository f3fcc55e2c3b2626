package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"otpbot/internal/task/scheduler"
	logx "otpbot/pkg/logx"
)

// Config is the on-disk daemon configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "5m", "1h"). coordinator.sweep_every
// also takes a cron expression, a descriptor such as "@hourly", or HH:MM.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Proxy       ProxyConfig       `json:"proxy"`
	Storage     StorageConfig     `json:"storage"`
	Logging     LoggingConfig     `json:"logging"`
	Coordinator CoordinatorConfig `json:"coordinator"`
	Detector    DetectorConfig    `json:"detector"`
	Telegram    TelegramConfig    `json:"telegram"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
}

// ServerConfig controls the HTTP message/presenter API.
//
// Security note: binding to a non-loopback address requires a token or allow_insecure.
type ServerConfig struct {
	Addr          string  `json:"addr"`
	Token         string  `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool    `json:"allow_insecure,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	Burst         int     `json:"burst,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/ behind the same token.
	Pprof bool `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	// WriteTimeout defaults to 0 (disabled) so /v1/events streams stay open.
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// ProxyConfig controls the local forward proxy that applies the enhanced-security header policy.
type ProxyConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./otpbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CoordinatorConfig struct {
	MaxEntries int    `json:"max_entries,omitempty"`
	Retention  string `json:"retention,omitempty"`
	SweepEvery string `json:"sweep_every,omitempty"`
}

type DetectorConfig struct {
	Debounce string        `json:"debounce,omitempty"`
	Watch    []WatchTarget `json:"watch,omitempty"`
}

// WatchTarget is a document observed in-process by the daemon.
type WatchTarget struct {
	Path string `json:"path"`
	URL  string `json:"url,omitempty"`
}

type TelegramConfig struct {
	Token      string  `json:"token,omitempty"`
	ChatID     int64   `json:"chat_id,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
}

const (
	DefaultServerAddr = "127.0.0.1:8790"
	DefaultProxyAddr  = "127.0.0.1:8118"
	DefaultRetention  = time.Hour
	DefaultSweepEvery = "5m"
	DefaultDebounce   = 500 * time.Millisecond
)

// Default returns the configuration used for omitted fields.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: DefaultServerAddr, RatePerSec: 20, Burst: 40, ReadTimeout: "10s", IdleTimeout: "60s"},
		Proxy:   ProxyConfig{Addr: DefaultProxyAddr},
		Storage: StorageConfig{Driver: "memory"},
		Logging: LoggingConfig{Level: "info", Console: true},
		Coordinator: CoordinatorConfig{
			MaxEntries: 10,
			Retention:  DefaultRetention.String(),
			SweepEvery: DefaultSweepEvery,
		},
		Detector: DetectorConfig{Debounce: DefaultDebounce.String()},
		Telegram: TelegramConfig{RatePerSec: 1},
	}
}

// ToLogx converts the logging section for logx.Service.
func (l LoggingConfig) ToLogx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

// Validate checks the fields that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	for path, raw := range map[string]string{
		"server.read_timeout":   c.Server.ReadTimeout,
		"server.write_timeout":  c.Server.WriteTimeout,
		"server.idle_timeout":   c.Server.IdleTimeout,
		"storage.busy_timeout":  c.Storage.BusyTimeout,
		"coordinator.retention": c.Coordinator.Retention,
		"detector.debounce":     c.Detector.Debounce,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if raw := strings.TrimSpace(c.Coordinator.SweepEvery); raw != "" {
		if err := scheduler.ValidateSchedule(raw); err != nil {
			return fmt.Errorf("coordinator.sweep_every: %w", err)
		}
	}
	if c.Coordinator.MaxEntries < 0 {
		return fmt.Errorf("coordinator.max_entries must be >= 0")
	}
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr: %w", err)
	}
	if c.Proxy.Enabled {
		if _, _, err := net.SplitHostPort(c.Proxy.Addr); err != nil {
			return fmt.Errorf("proxy.addr: %w", err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver %q unsupported", c.Storage.Driver)
	}
	for i, w := range c.Detector.Watch {
		if strings.TrimSpace(w.Path) == "" {
			return fmt.Errorf("detector.watch[%d].path required", i)
		}
	}
	return nil
}

// RetentionDuration returns coordinator.retention or its default.
func (c CoordinatorConfig) RetentionDuration() time.Duration {
	d, err := ParseDurationOrDefault("coordinator.retention", c.Retention, DefaultRetention)
	if err != nil {
		return DefaultRetention
	}
	return d
}

// SweepSchedule returns coordinator.sweep_every or its default.
func (c CoordinatorConfig) SweepSchedule() string {
	if v := strings.TrimSpace(c.SweepEvery); v != "" {
		return v
	}
	return DefaultSweepEvery
}

func (d DetectorConfig) DebounceDuration() time.Duration {
	v, err := ParseDurationOrDefault("detector.debounce", d.Debounce, DefaultDebounce)
	if err != nil {
		return DefaultDebounce
	}
	return v
}
