package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"otpbot/internal/otp"
	logx "otpbot/pkg/logx"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := newMigrationRunner(db).run(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) get(ctx context.Context, key string, out any) (bool, error) {
	if s.db == nil {
		return false, ErrClosed
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// put is a single upsert statement, which sqlite applies atomically.
func (s *sqliteStore) put(ctx context.Context, key string, v any) error {
	if s.db == nil {
		return ErrClosed
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, string(b), time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) LoadEntries(ctx context.Context) ([]otp.Entry, error) {
	var list []otp.Entry
	if _, err := s.get(ctx, KeyEntryList, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []otp.Entry{}
	}
	return list, nil
}

func (s *sqliteStore) SaveEntries(ctx context.Context, entries []otp.Entry) error {
	if entries == nil {
		entries = []otp.Entry{}
	}
	return s.put(ctx, KeyEntryList, entries)
}

func (s *sqliteStore) LoadSettings(ctx context.Context) (otp.Settings, bool, error) {
	var st otp.Settings
	ok, err := s.get(ctx, KeySettings, &st)
	if err != nil || !ok {
		return otp.Settings{}, false, err
	}
	return st, true, nil
}

func (s *sqliteStore) SaveSettings(ctx context.Context, settings otp.Settings) error {
	return s.put(ctx, KeySettings, settings)
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
