// Package notify pushes newly recorded codes to a Telegram chat when
// notifications are enabled in settings.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"otpbot/internal/eventbus"
	"otpbot/internal/otp"
	logx "otpbot/pkg/logx"
)

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type TelegramSender struct {
	bot  *tele.Bot
	chat *tele.Chat
}

// NewTelegram verifies the token with the Bot API (getMe).
func NewTelegram(token string, chatID int64) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramSender{bot: b, chat: &tele.Chat{ID: chatID}}, nil
}

func (s *TelegramSender) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(s.chat, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

type Options struct {
	RatePerSec float64 // default 1
	Settings   func() otp.Settings
	// Entries returns the list already present at start; those entries are
	// never announced. nil means start empty.
	Entries func() []otp.Entry
}

// Notifier watches list updates and sends each new head entry once. A head
// observed before the newest entry already handled is never sent, so
// acknowledgements, sweeps and restarts do not re-announce old codes.
type Notifier struct {
	bus     eventbus.Bus
	sender  Sender
	opts    Options
	limiter *rate.Limiter
	log     logx.Logger

	notified map[string]struct{}
	order    []string
	latest   time.Time
}

const rememberIDs = 64

func New(bus eventbus.Bus, sender Sender, opts Options, log logx.Logger) *Notifier {
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 1
	}
	if opts.Settings == nil {
		opts.Settings = otp.DefaultSettings
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		bus:      bus,
		sender:   sender,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		log:      log.With(logx.String("comp", "notify")),
		notified: map[string]struct{}{},
	}
}

// Run consumes list updates until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	ch, unsubscribe := n.bus.Subscribe(16)
	defer unsubscribe()
	if n.opts.Entries != nil {
		for _, e := range n.opts.Entries() {
			n.remember(e)
		}
	}
	n.log.Debug("notifier started", logx.Time("watermark", n.latest))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Type != eventbus.TypeListUpdated {
				continue
			}
			list, _ := ev.Data.([]otp.Entry)
			n.handle(ctx, list)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, list []otp.Entry) {
	if len(list) == 0 {
		return
	}
	head := list[0]
	if !n.remember(head) || head.Acknowledged || !n.opts.Settings().NotificationsEnabled {
		return
	}
	if !n.limiter.Allow() {
		n.log.Warn("notification dropped (rate limited)", logx.String("id", head.ID))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := n.sender.Send(sctx, Format(head)); err != nil {
		n.log.Warn("notification failed", logx.String("id", head.ID), logx.Err(err))
		return
	}
	n.log.Debug("notification sent", logx.String("id", head.ID))
}

// remember records e and reports whether it is newer than everything handled so far.
func (n *Notifier) remember(e otp.Entry) bool {
	if _, ok := n.notified[e.ID]; ok || e.ObservedAt.Before(n.latest) {
		return false
	}
	n.latest = e.ObservedAt
	n.notified[e.ID] = struct{}{}
	n.order = append(n.order, e.ID)
	if len(n.order) > rememberIDs {
		delete(n.notified, n.order[0])
		n.order = n.order[1:]
	}
	return true
}

// Format renders an entry as a one-line message.
func Format(e otp.Entry) string {
	src := e.SourceURL
	if u, err := url.Parse(e.SourceURL); err == nil && u.Host != "" {
		src = u.Host
	}
	if src == "" {
		src = "unknown source"
	}
	return fmt.Sprintf("OTP %s from %s at %s", e.Code, src, e.ObservedAt.Format("15:04:05"))
}
