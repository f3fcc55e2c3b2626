package app

import (
	"fmt"
	"strings"
	"time"

	"otpbot/internal/config"
	"otpbot/internal/httpapi"
	"otpbot/internal/httpserver"
	"otpbot/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapServerConfig(cfg *config.Config) (httpserver.Config, error) {
	sc := cfg.Server
	read, err := config.ParseDurationField("server.read_timeout", sc.ReadTimeout)
	if err != nil {
		return httpserver.Config{}, err
	}
	write, err := config.ParseDurationField("server.write_timeout", sc.WriteTimeout)
	if err != nil {
		return httpserver.Config{}, err
	}
	idle, err := config.ParseDurationField("server.idle_timeout", sc.IdleTimeout)
	if err != nil {
		return httpserver.Config{}, err
	}
	addr := strings.TrimSpace(sc.Addr)
	if addr == "" {
		addr = config.DefaultServerAddr
	}
	return httpserver.Config{
		Name:          "api",
		Addr:          addr,
		Token:         sc.Token,
		AllowInsecure: sc.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// mapProxyConfig shares the API server's timeouts. The proxy has no token of
// its own, so a non-loopback bind needs server.allow_insecure.
func mapProxyConfig(cfg *config.Config) (httpserver.Config, error) {
	sc, err := mapServerConfig(cfg)
	if err != nil {
		return httpserver.Config{}, err
	}
	addr := strings.TrimSpace(cfg.Proxy.Addr)
	if addr == "" {
		addr = config.DefaultProxyAddr
	}
	sc.Name = "proxy"
	sc.Addr = addr
	sc.Token = ""
	// Streams through the proxy can be long-lived.
	sc.WriteTimeout = 0
	return sc, nil
}

func mapAPIOptions(cfg *config.Config) httpapi.Options {
	return httpapi.Options{
		Token:      cfg.Server.Token,
		RatePerSec: cfg.Server.RatePerSec,
		Burst:      cfg.Server.Burst,
		Pprof:      cfg.Server.Pprof,
	}
}
