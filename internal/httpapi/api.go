package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	"otpbot/internal/coordinator"
	"otpbot/internal/eventbus"
	"otpbot/internal/httpserver"
	"otpbot/internal/otp"
	logx "otpbot/pkg/logx"
)

const maxBodyBytes = 64 << 10

// Coordinator is the subset of *coordinator.Coordinator the API needs.
type Coordinator interface {
	Handle(ctx context.Context, msg coordinator.Message) coordinator.Response
	Entries() []otp.Entry
	Settings() otp.Settings
}

type Options struct {
	Token      string
	RatePerSec float64 // <= 0 disables limiting
	Burst      int
	Pprof      bool
	// Heartbeat is the SSE keep-alive interval; default 15s.
	Heartbeat time.Duration
}

type EntryList struct {
	EntryList []otp.Entry `json:"entryList"`
}

// ListUpdate is the payload of an OTP_LIST_UPDATED event.
type ListUpdate struct {
	OTPList []otp.Entry `json:"otpList"`
}

type API struct {
	coord Coordinator
	bus   eventbus.Bus
	opts  Options
	log   logx.Logger
}

func New(coord Coordinator, bus eventbus.Bus, opts Options, log logx.Logger) *API {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &API{coord: coord, bus: bus, opts: opts, log: log.With(logx.String("comp", "httpapi"))}
}

// Handler returns the routed handler with auth and rate limiting applied.
// /healthz is never authenticated.
func (a *API) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/messages", a.handleMessage)
	api.HandleFunc("GET /v1/entries", a.handleEntries)
	api.HandleFunc("DELETE /v1/entries", a.handleClear)
	api.HandleFunc("GET /v1/settings", a.handleGetSettings)
	api.HandleFunc("PUT /v1/settings", a.handlePutSettings)
	api.HandleFunc("GET /v1/events", a.handleEvents)
	if a.opts.Pprof {
		api.HandleFunc("GET /debug/pprof/", hpprof.Index)
		api.HandleFunc("GET /debug/pprof/cmdline", hpprof.Cmdline)
		api.HandleFunc("GET /debug/pprof/profile", hpprof.Profile)
		api.HandleFunc("GET /debug/pprof/symbol", hpprof.Symbol)
		api.HandleFunc("GET /debug/pprof/trace", hpprof.Trace)
	}

	var h http.Handler = api
	h = httpserver.WithAuth(a.opts.Token, h)
	if a.opts.RatePerSec > 0 {
		h = newLimiter(a.opts.RatePerSec, a.opts.Burst).middleware(h)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	root.Handle("/", h)
	return root
}

func (a *API) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg coordinator.Message
	if err := decodeJSON(w, r, &msg); err != nil {
		writeJSON(w, http.StatusBadRequest, coordinator.Response{Success: false, Error: err.Error()})
		return
	}
	resp := a.coord.Handle(r.Context(), msg)
	if !resp.Success {
		a.log.Debug("message rejected", logx.String("type", msg.Type), logx.String("error", resp.Error))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, EntryList{EntryList: a.coord.Entries()})
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	resp := a.coord.Handle(r.Context(), coordinator.Message{Type: coordinator.TypeClearOTPs})
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.coord.Settings())
}

func (a *API) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var s otp.Settings
	if err := decodeJSON(w, r, &s); err != nil {
		writeJSON(w, http.StatusBadRequest, coordinator.Response{Success: false, Error: err.Error()})
		return
	}
	if err := s.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, coordinator.Response{Success: false, Error: err.Error()})
		return
	}
	resp := a.coord.Handle(r.Context(), coordinator.Message{Type: coordinator.TypeSettingsUpdated, Settings: &s})
	if !resp.Success {
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, a.coord.Settings())
}

// handleEvents streams the current list once, then every list update.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, unsubscribe := a.bus.Subscribe(16)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, coordinator.TypeListUpdated, ListUpdate{OTPList: a.coord.Entries()}); err != nil {
		return
	}
	fl.Flush()

	hb := time.NewTicker(a.opts.Heartbeat)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-hb.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			fl.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != eventbus.TypeListUpdated {
				continue
			}
			list, _ := ev.Data.([]otp.Entry)
			if list == nil {
				list = []otp.Entry{}
			}
			if err := writeEvent(w, coordinator.TypeListUpdated, ListUpdate{OTPList: list}); err != nil {
				return
			}
			fl.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b)
	return err
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return fmt.Errorf("body exceeds %d bytes", mbe.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
