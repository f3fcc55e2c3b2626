// Package proxy is a local forward HTTP proxy whose responses pass through the
// enhanced-security header interceptor.
package proxy

import (
	"net/http"
	"net/http/httputil"

	"otpbot/internal/csp"
	logx "otpbot/pkg/logx"
)

// Handler returns the forward-proxy handler. CONNECT tunnels are refused since
// encrypted responses cannot have their headers rewritten.
func Handler(ic *csp.Interceptor, transport http.RoundTripper, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.Host = pr.In.URL.Host
			pr.SetXForwarded()
		},
		Transport:      transport,
		ModifyResponse: ic.ModifyResponse,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn("upstream request failed", logx.String("host", r.URL.Host), logx.Err(err))
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodConnect {
			http.Error(w, "CONNECT not supported", http.StatusMethodNotAllowed)
			return
		}
		if !r.URL.IsAbs() || r.URL.Host == "" {
			http.Error(w, "absolute URL required", http.StatusBadRequest)
			return
		}
		log.Trace("proxying", logx.String("method", r.Method), logx.String("host", r.URL.Host))
		rp.ServeHTTP(w, r)
	})
}
