package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otpbot/internal/csp"
	logx "otpbot/pkg/logx"
)

func TestProxyRewritesCSPWhileInstalled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<p>Your code: 123456</p>")
	}))
	defer upstream.Close()

	ic := csp.NewInterceptor()
	px := httptest.NewServer(Handler(ic, nil, logx.Nop()))
	defer px.Close()

	pu, err := url.Parse(px.URL)
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(pu)}}

	get := func() (string, string) {
		resp, err := client.Get(upstream.URL + "/login")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.Header.Get("Content-Security-Policy"), string(body)
	}

	policy, body := get()
	assert.Empty(t, policy)
	assert.Equal(t, "<p>Your code: 123456</p>", body)

	ic.Install()
	policy, _ = get()
	assert.Equal(t, csp.DefaultPolicy, policy)

	ic.Uninstall()
	policy, _ = get()
	assert.Empty(t, policy)
}

func TestProxyRejectsConnectAndRelativeURLs(t *testing.T) {
	h := Handler(csp.NewInterceptor(), nil, logx.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodConnect, "http://bank.example:443", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relative", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
