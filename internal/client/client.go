// Package client talks to a running otpbot daemon over its HTTP API.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"otpbot/internal/coordinator"
	"otpbot/internal/httpapi"
	"otpbot/internal/otp"
	logx "otpbot/pkg/logx"
)

const DefaultServer = "http://127.0.0.1:8790"

type Config struct {
	Server  string
	Token   string
	Timeout time.Duration
}

type Client struct {
	rc *resty.Client
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.Server) == "" {
		cfg.Server = DefaultServer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Server, "/")).
		SetTimeout(cfg.Timeout).
		SetLogger(restyLogger{log: log.With(logx.String("comp", "client"))}).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		rc.SetAuthToken(cfg.Token)
	}
	return &Client{rc: rc}
}

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("otpbot api: status %d: %s", e.Status, strings.TrimSpace(e.Body))
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// Send posts one message. A handled message with success=false is returned
// without error; callers inspect the Response.
func (c *Client) Send(ctx context.Context, msg coordinator.Message) (coordinator.Response, error) {
	var out coordinator.Response
	resp, err := c.rc.R().SetContext(ctx).SetBody(msg).SetResult(&out).Post("/v1/messages")
	if err := check(resp, err); err != nil {
		return coordinator.Response{}, err
	}
	return out, nil
}

func (c *Client) Entries(ctx context.Context) ([]otp.Entry, error) {
	var out httpapi.EntryList
	resp, err := c.rc.R().SetContext(ctx).SetResult(&out).Get("/v1/entries")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	if out.EntryList == nil {
		out.EntryList = []otp.Entry{}
	}
	return out.EntryList, nil
}

func (c *Client) Clear(ctx context.Context) error {
	resp, err := c.rc.R().SetContext(ctx).Delete("/v1/entries")
	return check(resp, err)
}

func (c *Client) Acknowledge(ctx context.Context, id string) error {
	return c.expectSuccess(ctx, coordinator.Message{Type: coordinator.TypeOTPCopied, ID: id})
}

func (c *Client) Settings(ctx context.Context) (otp.Settings, error) {
	var out otp.Settings
	resp, err := c.rc.R().SetContext(ctx).SetResult(&out).Get("/v1/settings")
	if err := check(resp, err); err != nil {
		return otp.Settings{}, err
	}
	return out, nil
}

func (c *Client) UpdateSettings(ctx context.Context, s otp.Settings) (otp.Settings, error) {
	var out otp.Settings
	resp, err := c.rc.R().SetContext(ctx).SetBody(s).SetResult(&out).Put("/v1/settings")
	if err := check(resp, err); err != nil {
		return otp.Settings{}, err
	}
	return out, nil
}

func (c *Client) Health(ctx context.Context) error {
	resp, err := c.rc.R().SetContext(ctx).Get("/healthz")
	return check(resp, err)
}

func (c *Client) expectSuccess(ctx context.Context, msg coordinator.Message) error {
	out, err := c.Send(ctx, msg)
	if err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("%s rejected: %s", msg.Type, out.Error)
	}
	return nil
}

// RelaySink forwards detections to the daemon; it satisfies detector.Sink.
type RelaySink struct {
	Client *Client
}

func (s RelaySink) Emit(ctx context.Context, ev otp.Event) error {
	return s.Client.expectSuccess(ctx, coordinator.DetectionMessage(ev))
}

type restyLogger struct{ log logx.Logger }

func (l restyLogger) Errorf(format string, v ...any) { l.log.Error(fmt.Sprintf(format, v...)) }
func (l restyLogger) Warnf(format string, v ...any)  { l.log.Warn(fmt.Sprintf(format, v...)) }
func (l restyLogger) Debugf(format string, v ...any) { l.log.Debug(fmt.Sprintf(format, v...)) }
