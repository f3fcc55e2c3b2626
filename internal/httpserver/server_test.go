package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8790": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":8790":          false,
		"0.0.0.0:8790":   false,
		"10.0.0.4:8790":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		assert.Equal(t, want, IsLoopbackAddr(addr), addr)
	}
}

func TestWithAuth(t *testing.T) {
	h := WithAuth("s3cret", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))

	do := func(r *http.Request) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do(httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, http.StatusOK, do(httptest.NewRequest(http.MethodGet, "/?token=s3cret", nil)))
	assert.Equal(t, http.StatusUnauthorized, do(httptest.NewRequest(http.MethodGet, "/?token=nope", nil)))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, do(r))
}

func TestServiceStartStop(t *testing.T) {
	s := New(Config{Name: "test", Addr: "127.0.0.1:0"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	}), testLogger())

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	assert.False(t, s.Running())
	assert.Empty(t, s.Addr())
}

func TestServiceRefusesInsecureBind(t *testing.T) {
	s := New(Config{Addr: "0.0.0.0:0"}, http.NotFoundHandler(), testLogger())
	s.Start(context.Background())
	defer s.Stop(context.Background())
	require.Eventually(t, func() bool { return s.Err() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Err(), ErrInsecureBind)
}
