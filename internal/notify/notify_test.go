package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otpbot/internal/eventbus"
	"otpbot/internal/otp"
	logx "otpbot/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) Send(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return f.err
}

func (f *fakeSender) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func entry(id, code string) otp.Entry {
	return otp.Entry{ID: id, Code: code, SourceURL: "https://bank.example/login", ObservedAt: time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "OTP 834921 from bank.example at 09:30:00", Format(entry("a", "834921")))
	assert.Equal(t, "OTP 1234 from unknown source at 00:00:00", Format(otp.Entry{Code: "1234", ObservedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}))
}

func TestNotifierSendsEachHeadOnce(t *testing.T) {
	bus := eventbus.New()
	sender := &fakeSender{}
	var enabled atomic.Bool
	enabled.Store(true)
	n := New(bus, sender, Options{RatePerSec: 1000, Settings: func() otp.Settings {
		s := otp.DefaultSettings()
		s.NotificationsEnabled = enabled.Load()
		return s
	}}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(done)
	}()

	publish := func(list ...otp.Entry) {
		require.Eventually(t, func() bool {
			return !bus.Publish(eventbus.Event{Type: eventbus.TypeListUpdated, Data: list}).NoSubscribers()
		}, time.Second, time.Millisecond)
	}

	a := entry("a", "111111")
	b := entry("b", "222222")
	publish(a)
	publish(a)    // same head again (e.g. acknowledge of another entry)
	publish(b, a) // new head
	require.Eventually(t, func() bool { return len(sender.messages()) == 2 }, time.Second, 5*time.Millisecond)

	enabled.Store(false)
	publish(entry("c", "333333"), b, a)
	publish() // cleared
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sender.messages(), 2)

	cancel()
	<-done
}

func TestNotifierIgnoresExistingAndOlderHeads(t *testing.T) {
	bus := eventbus.New()
	sender := &fakeSender{}
	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	old1 := otp.Entry{ID: "old-1", Code: "111111", SourceURL: "https://a.example", ObservedAt: base}
	old2 := otp.Entry{ID: "old-2", Code: "222222", SourceURL: "https://a.example", ObservedAt: base.Add(time.Minute)}
	n := New(bus, sender, Options{
		RatePerSec: 1000,
		Entries:    func() []otp.Entry { return []otp.Entry{old2, old1} },
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(done)
	}()

	publish := func(list ...otp.Entry) {
		require.Eventually(t, func() bool {
			return !bus.Publish(eventbus.Event{Type: eventbus.TypeListUpdated, Data: list}).NoSubscribers()
		}, time.Second, time.Millisecond)
	}

	copied := old2
	copied.Acknowledged = true
	publish(copied, old1) // acknowledgement of the existing head
	publish(old1)         // newer entry removed

	fresh := otp.Entry{ID: "new", Code: "333333", SourceURL: "https://a.example", ObservedAt: base.Add(2 * time.Minute)}
	publish(fresh, copied, old1)
	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 5*time.Millisecond)

	publish(fresh, copied, old1)
	publish(copied, old1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{Format(fresh)}, sender.messages())

	cancel()
	<-done
}

func TestNotifierRemembersHeadsWhileDisabled(t *testing.T) {
	sender := &fakeSender{}
	var enabled atomic.Bool
	n := New(eventbus.New(), sender, Options{RatePerSec: 1000, Settings: func() otp.Settings {
		s := otp.DefaultSettings()
		s.NotificationsEnabled = enabled.Load()
		return s
	}}, logx.Nop())

	c := entry("c", "333333")
	n.handle(context.Background(), []otp.Entry{c})
	enabled.Store(true)
	n.handle(context.Background(), []otp.Entry{c})
	assert.Empty(t, sender.messages())

	d := entry("d", "444444")
	d.ObservedAt = d.ObservedAt.Add(time.Second)
	n.handle(context.Background(), []otp.Entry{d, c})
	assert.Equal(t, []string{Format(d)}, sender.messages())
}

func TestNotifierSurvivesSendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	n := New(eventbus.New(), sender, Options{RatePerSec: 1000}, logx.Nop())
	n.handle(context.Background(), []otp.Entry{entry("a", "1234")})
	n.handle(context.Background(), []otp.Entry{entry("b", "5678")})
	assert.Len(t, sender.messages(), 2)
}

func TestNewTelegramRequiresConfig(t *testing.T) {
	_, err := NewTelegram("", 1)
	require.Error(t, err)
	_, err = NewTelegram("token", 0)
	require.Error(t, err)
}
