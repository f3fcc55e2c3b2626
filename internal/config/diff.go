package config

import (
	"reflect"
	"strings"

	logx "otpbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe attrs for
// logging. Tokens are never included, only whether one is set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", newCfg.Server.Addr),
			logx.Bool("server.token_set", strings.TrimSpace(newCfg.Server.Token) != ""),
			logx.Any("server.rate_per_sec", newCfg.Server.RatePerSec),
		)
	}
	if oldCfg.Proxy != newCfg.Proxy {
		changed = append(changed, "proxy")
		attrs = append(attrs, logx.Bool("proxy.enabled", newCfg.Proxy.Enabled), logx.String("proxy.addr", newCfg.Proxy.Addr))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Coordinator != newCfg.Coordinator {
		changed = append(changed, "coordinator")
		attrs = append(attrs,
			logx.Int("coordinator.max_entries", newCfg.Coordinator.MaxEntries),
			logx.String("coordinator.retention", newCfg.Coordinator.Retention),
			logx.String("coordinator.sweep_every", newCfg.Coordinator.SweepEvery),
		)
	}
	if !reflect.DeepEqual(oldCfg.Detector, newCfg.Detector) {
		changed = append(changed, "detector")
		attrs = append(attrs,
			logx.String("detector.debounce", newCfg.Detector.Debounce),
			logx.Int("detector.watch_count", len(newCfg.Detector.Watch)),
		)
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Bool("telegram.chat_set", newCfg.Telegram.ChatID != 0),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	return changed, attrs
}
