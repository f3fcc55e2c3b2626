package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otpbot/internal/otp"
)

// fakeDaemon serves the settings endpoints and records every PUT body.
type fakeDaemon struct {
	mu       sync.Mutex
	settings otp.Settings
	puts     []otp.Settings
}

func newFakeDaemon(t *testing.T, s otp.Settings) (*fakeDaemon, *httptest.Server) {
	t.Helper()
	d := &fakeDaemon{settings: s}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/settings", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.settings)
	})
	mux.HandleFunc("PUT /v1/settings", func(w http.ResponseWriter, r *http.Request) {
		var next otp.Settings
		if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		d.settings = next
		d.puts = append(d.puts, next)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(next)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return d, srv
}

func (d *fakeDaemon) updates() []otp.Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]otp.Settings(nil), d.puts...)
}

func resetFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		f := cmd.Flags().Lookup(name)
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
}

// execute runs the root command and returns what it wrote to its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		resetFlags(settingsSetCmd, "capture", "notifications", "enhanced-security", "auto-clear", "pattern")
		resetFlags(scanCmd, "pattern", "output")
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSettingsSetAppliesOnlyChangedFlags(t *testing.T) {
	initial := otp.Settings{
		CaptureEnabled:       false,
		NotificationsEnabled: true,
		EnhancedSecurity:     false,
		AutoClear:            false,
		CustomPattern:        `\bPIN-\d{4}\b`,
	}

	tests := map[string]struct {
		args []string
		want otp.Settings
	}{
		"auto clear only": {
			args: []string{"--auto-clear"},
			want: otp.Settings{NotificationsEnabled: true, AutoClear: true, CustomPattern: `\bPIN-\d{4}\b`},
		},
		"explicit false": {
			args: []string{"--notifications=false"},
			want: otp.Settings{CustomPattern: `\bPIN-\d{4}\b`},
		},
		"empty pattern restores default": {
			args: []string{"--pattern="},
			want: otp.Settings{NotificationsEnabled: true, CustomPattern: otp.DefaultPattern},
		},
		"several flags": {
			args: []string{"--capture", "--enhanced-security", "--pattern", `\b\d{6}\b`},
			want: otp.Settings{CaptureEnabled: true, NotificationsEnabled: true, EnhancedSecurity: true, CustomPattern: `\b\d{6}\b`},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			d, srv := newFakeDaemon(t, initial)
			args := append([]string{"--server", srv.URL, "settings", "set"}, tc.args...)
			_, err := execute(t, args...)
			require.NoError(t, err)
			puts := d.updates()
			require.Len(t, puts, 1)
			assert.Equal(t, tc.want, puts[0])
		})
	}
}

func TestSettingsSetRejectsEmptyAndInvalidChanges(t *testing.T) {
	d, srv := newFakeDaemon(t, otp.DefaultSettings())

	_, err := execute(t, "--server", srv.URL, "settings", "set")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to change")

	_, err = execute(t, "--server", srv.URL, "settings", "set", "--pattern", "([")
	require.Error(t, err)

	assert.Empty(t, d.updates())
}

func TestScanJSONOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.txt")
	require.NoError(t, os.WriteFile(path, []byte("Your code is 834921. Again 834921. Ref 12345678, PIN 4410."), 0o600))

	out, err := execute(t, "scan", path, "-o", "json")
	require.NoError(t, err)

	var report scanReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, path, report.Path)
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.ToSlash(abs), report.URL)
	assert.Equal(t, []string{"834921", "4410"}, report.Codes)
}

func TestScanJSONOutputWithCustomPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.html")
	require.NoError(t, os.WriteFile(path, []byte(`<html><body><p>Code 7788</p><script>var x = "9999";</script><p>123456</p></body></html>`), 0o600))

	out, err := execute(t, "scan", path, "--pattern", `\b\d{4}\b`, "-o", "json")
	require.NoError(t, err)

	var report scanReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, []string{"7788"}, report.Codes)
}
