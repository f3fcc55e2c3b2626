package storage

import (
	"context"
	"sync"

	"otpbot/internal/otp"
)

// Memory is a process-local Store. Tests also use it as a base for fault injection.
type Memory struct {
	mu       sync.Mutex
	entries  []otp.Entry
	settings *otp.Settings
	closed   bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) LoadEntries(ctx context.Context) ([]otp.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return otp.Clone(m.entries), nil
}

func (m *Memory) SaveEntries(ctx context.Context, entries []otp.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.entries = otp.Clone(entries)
	return nil
}

func (m *Memory) LoadSettings(ctx context.Context) (otp.Settings, bool, error) {
	if err := ctx.Err(); err != nil {
		return otp.Settings{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return otp.Settings{}, false, ErrClosed
	}
	if m.settings == nil {
		return otp.Settings{}, false, nil
	}
	return *m.settings, true, nil
}

func (m *Memory) SaveSettings(ctx context.Context, s otp.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.settings = &s
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
