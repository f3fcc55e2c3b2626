package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otpbot/internal/coordinator"
	"otpbot/internal/detector"
	"otpbot/internal/eventbus"
	"otpbot/internal/httpapi"
	"otpbot/internal/otp"
	logx "otpbot/pkg/logx"
)

func newDaemon(t *testing.T, token string) (*Client, *coordinator.Coordinator) {
	t.Helper()
	bus := eventbus.New()
	c := coordinator.New(coordinator.Deps{Bus: bus}, coordinator.Options{})
	require.NoError(t, c.Initialize(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(cancel)
	require.Eventually(t, c.Running, time.Second, time.Millisecond)

	srv := httptest.NewServer(httpapi.New(c, bus, httpapi.Options{Token: token}, logx.Nop()).Handler())
	t.Cleanup(srv.Close)
	return New(Config{Server: srv.URL, Token: token}, logx.Nop()), c
}

func TestClientRoundTrip(t *testing.T) {
	cl, c := newDaemon(t, "tok")
	ctx := context.Background()

	require.NoError(t, cl.Health(ctx))

	resp, err := cl.Send(ctx, coordinator.Message{Type: coordinator.TypeOTPDetected, OTP: "482913", URL: "https://a.example"})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)

	entries, err := cl.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "482913", entries[0].Code)

	require.NoError(t, cl.Acknowledge(ctx, entries[0].ID))
	assert.True(t, c.Entries()[0].Acknowledged)
	require.Error(t, cl.Acknowledge(ctx, "missing"))

	s, err := cl.Settings(ctx)
	require.NoError(t, err)
	s.AutoClear = true
	s, err = cl.UpdateSettings(ctx, s)
	require.NoError(t, err)
	assert.True(t, s.AutoClear)

	s.CustomPattern = "not a valid regex[("
	_, err = cl.UpdateSettings(ctx, s)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)

	require.NoError(t, cl.Clear(ctx))
	entries, err = cl.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	resp, err = cl.Send(ctx, coordinator.Message{Type: "PING"})
	require.NoError(t, err)
	assert.Equal(t, "Unknown message type", resp.Error)
}

func TestClientUnauthorized(t *testing.T) {
	cl, _ := newDaemon(t, "tok")
	bad := New(Config{Server: cl.rc.BaseURL}, logx.Nop())
	_, err := bad.Entries(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestRelaySinkFeedsRemoteDetector(t *testing.T) {
	cl, c := newDaemon(t, "")
	doc := detector.NewMemoryDocument("https://mail.example/inbox", "Your code is 135790")
	d := detector.New(doc, RelaySink{Client: cl}, detector.Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, d.Initialize(context.Background()))
	defer d.Shutdown()

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, otp.Entry{ID: entries[0].ID, Code: "135790", SourceURL: "https://mail.example/inbox", ObservedAt: entries[0].ObservedAt}, entries[0])
}
