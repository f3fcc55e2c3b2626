package csp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewrite(t *testing.T) {
	tests := []struct {
		name string
		in   http.Header
		want string
	}{
		{
			name: "no header injects default",
			in:   http.Header{},
			want: "default-src 'self'; script-src-elem 'none'",
		},
		{
			name: "existing header appended",
			in:   http.Header{"Content-Security-Policy": {"img-src *"}},
			want: "img-src *; script-src-elem 'none'",
		},
		{
			name: "lower-case header name matched",
			in:   http.Header{"content-security-policy": {"default-src https:"}},
			want: "default-src https:; script-src-elem 'none'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Rewrite(tt.in)
			var got []string
			for k, v := range tt.in {
				if k == "Content-Security-Policy" || k == "content-security-policy" {
					got = append(got, v...)
				}
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0])
		})
	}
}

func TestInterceptorOnlyWhileInstalled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		_, _ = io.WriteString(w, "ok")
	}))
	defer upstream.Close()

	ic := NewInterceptor()
	client := &http.Client{Transport: ic.Transport(nil)}

	get := func() string {
		resp, err := client.Get(upstream.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.Header.Get("Content-Security-Policy")
	}

	assert.Equal(t, "default-src 'self'", get())

	ic.Install()
	ic.Install()
	assert.Equal(t, "default-src 'self'; script-src-elem 'none'", get(), "installing twice must not stack")
	assert.Equal(t, uint64(1), ic.Rewrites())

	ic.Uninstall()
	assert.False(t, ic.Installed())
	assert.Equal(t, "default-src 'self'", get())
}
