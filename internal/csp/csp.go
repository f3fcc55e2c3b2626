// Package csp rewrites Content-Security-Policy response headers so script
// elements cannot execute on observed pages (enhanced-security mode).
package csp

import (
	"net/http"
	"strings"
	"sync/atomic"
)

const (
	HeaderName    = "Content-Security-Policy"
	Directive     = "script-src-elem 'none'"
	DefaultPolicy = "default-src 'self'; " + Directive
)

// Rewrite appends Directive to the first CSP value, or sets DefaultPolicy when
// the response has none. Header names are matched case-insensitively.
func Rewrite(h http.Header) {
	for name, values := range h {
		if len(values) == 0 || !strings.EqualFold(name, HeaderName) {
			continue
		}
		values[0] += "; " + Directive
		h[name] = values
		return
	}
	h.Set(HeaderName, DefaultPolicy)
}

// Interceptor applies Rewrite to responses while installed. Install and
// Uninstall are idempotent: there is only ever one rule.
type Interceptor struct {
	installed atomic.Bool
	rewrites  atomic.Uint64
}

func NewInterceptor() *Interceptor { return &Interceptor{} }

func (i *Interceptor) Install()        { i.installed.Store(true) }
func (i *Interceptor) Uninstall()      { i.installed.Store(false) }
func (i *Interceptor) Installed() bool { return i.installed.Load() }

// Rewrites counts responses modified so far.
func (i *Interceptor) Rewrites() uint64 { return i.rewrites.Load() }

// ModifyResponse matches httputil.ReverseProxy.ModifyResponse.
func (i *Interceptor) ModifyResponse(resp *http.Response) error {
	if resp == nil || !i.installed.Load() {
		return nil
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	Rewrite(resp.Header)
	i.rewrites.Add(1)
	return nil
}

// Transport wraps next so every response passes through ModifyResponse.
func (i *Interceptor) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		_ = i.ModifyResponse(resp)
		return resp, nil
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
