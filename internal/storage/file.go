package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"otpbot/internal/otp"
	logx "otpbot/pkg/logx"
)

// fileStore keeps both keys in one JSON document:
//
//	{ "entryList": [...], "settings": {...} }
//
// Every save rewrites the document to <path>.tmp and renames it over <path>,
// so a crash mid-write leaves the previous document intact.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	doc    fileDoc
	closed bool
}

type fileDoc struct {
	EntryList []otp.Entry   `json:"entryList"`
	Settings  *otp.Settings `json:"settings,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// first run
	case err != nil:
		return nil, err
	case len(strings.TrimSpace(string(b))) > 0:
		if err := json.Unmarshal(b, &s.doc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *fileStore) LoadEntries(ctx context.Context) ([]otp.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return otp.Clone(s.doc.EntryList), nil
}

func (s *fileStore) SaveEntries(ctx context.Context, entries []otp.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	next := s.doc
	next.EntryList = otp.Clone(entries)
	if err := s.writeLocked(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *fileStore) LoadSettings(ctx context.Context) (otp.Settings, bool, error) {
	if err := ctx.Err(); err != nil {
		return otp.Settings{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return otp.Settings{}, false, ErrClosed
	}
	if s.doc.Settings == nil {
		return otp.Settings{}, false, nil
	}
	return *s.doc.Settings, true, nil
}

func (s *fileStore) SaveSettings(ctx context.Context, settings otp.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	next := s.doc
	next.Settings = &settings
	if err := s.writeLocked(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *fileStore) writeLocked(doc fileDoc) error {
	if doc.EntryList == nil {
		doc.EntryList = []otp.Entry{}
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.log.Trace("store written", logx.String("path", s.path), logx.Int("entries", len(doc.EntryList)))
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
