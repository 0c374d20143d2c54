package notifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"flowup/internal/eventbus"
	logx "flowup/pkg/logx"

	"github.com/slack-go/slack"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	tele "gopkg.in/telebot.v4"
)

type recordingSink struct {
	name  string
	err   error
	calls []string
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Deliver(ctx context.Context, activityID int64, title, message string) error {
	r.calls = append(r.calls, title+"|"+message)
	return r.err
}

func TestServiceFansOutAndJoinsErrors(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	ok := &recordingSink{name: "ok"}
	bad := &recordingSink{name: "bad", err: errors.New("permission denied")}
	s := NewWithSinks(Config{HistorySize: 1}, logx.Nop(), bus, ok, bad)

	err := s.Deliver(context.Background(), 3, "Reminder: taxes", "file them")
	if err == nil || !strings.Contains(err.Error(), "bad: permission denied") {
		t.Fatalf("Deliver err = %v", err)
	}
	if len(ok.calls) != 1 || len(bad.calls) != 1 {
		t.Fatalf("calls ok=%d bad=%d, want 1 each", len(ok.calls), len(bad.calls))
	}

	var sent, failed int
	for i := 0; i < 2; i++ {
		e := <-events
		switch e.Type {
		case "notification.sent":
			sent++
		case "notification.failed":
			failed++
		}
	}
	if sent != 1 || failed != 1 {
		t.Fatalf("sent=%d failed=%d", sent, failed)
	}

	_ = s.Deliver(context.Background(), 4, "Reminder: second", "")
	h := s.History()
	if len(h) != 1 || h[0].ActivityID != 4 {
		t.Fatalf("history = %+v, want only the latest item", h)
	}
}

func TestServiceRateLimitHonoursContext(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{name: "ok"}
	s := NewWithSinks(Config{RatePerSec: 1}, logx.Nop(), nil, sink)

	if err := s.Deliver(context.Background(), 1, "a", ""); err != nil {
		t.Fatalf("first deliver: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Deliver(ctx, 2, "b", ""); err == nil {
		t.Fatal("expected rate limit wait to fail on short deadline")
	}
	if len(sink.calls) != 1 {
		t.Fatalf("sink calls = %d, want 1", len(sink.calls))
	}
}

func TestNewFallsBackToLogSink(t *testing.T) {
	t.Parallel()
	s, err := New(Config{}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if names := s.SinkNames(); len(names) != 1 || names[0] != "log" {
		t.Fatalf("sinks = %v, want [log]", names)
	}
	if _, err := New(Config{Telegram: TelegramConfig{Enabled: true}}, logx.Nop(), nil); err == nil {
		t.Fatal("expected error for telegram sink without token")
	}
}

type fakeTelegram struct {
	to   tele.Recipient
	what interface{}
	opts []interface{}
}

func (f *fakeTelegram) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.to, f.what, f.opts = to, what, opts
	return &tele.Message{ID: 1}, nil
}

func TestTelegramSink(t *testing.T) {
	t.Parallel()
	fake := &fakeTelegram{}
	tg := &Telegram{bot: fake, chatID: 42, threadID: 7}
	if err := tg.Deliver(context.Background(), 1, "Reminder: gym", "leg day"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if fake.to.Recipient() != "42" {
		t.Fatalf("recipient = %q", fake.to.Recipient())
	}
	if fake.what != "Reminder: gym\n\nleg day" {
		t.Fatalf("text = %q", fake.what)
	}
	opt, ok := fake.opts[0].(*tele.SendOptions)
	if !ok || opt.ThreadID != 7 {
		t.Fatalf("send options = %#v", fake.opts)
	}
}

type fakeSlack struct {
	channel string
	n       int
}

func (f *fakeSlack) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.channel = channelID
	f.n = len(options)
	return channelID, "1700000000.000100", nil
}

func TestSlackSink(t *testing.T) {
	t.Parallel()
	fake := &fakeSlack{}
	s := &Slack{client: fake, channelID: "C123"}
	if err := s.Deliver(context.Background(), 1, "Reminder: standup", ""); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if fake.channel != "C123" || fake.n != 2 {
		t.Fatalf("posted to %q with %d options", fake.channel, fake.n)
	}
}

type fakeTwilio struct {
	params *openapi.CreateMessageParams
	err    error
}

func (f *fakeTwilio) CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &openapi.ApiV2010Message{Sid: &sid}, nil
}

func TestWhatsAppSink(t *testing.T) {
	t.Parallel()
	fake := &fakeTwilio{}
	w := &WhatsApp{api: fake, from: normalizeWhatsAppAddress("14155238886"), to: normalizeWhatsAppAddress("+34600000000")}
	if err := w.Deliver(context.Background(), 1, "Reminder: call mom", "You have a pending activity"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if *fake.params.To != "whatsapp:+34600000000" || *fake.params.From != "whatsapp:+14155238886" {
		t.Fatalf("to=%s from=%s", *fake.params.To, *fake.params.From)
	}
	if !strings.HasPrefix(*fake.params.Body, "Reminder: call mom") {
		t.Fatalf("body = %q", *fake.params.Body)
	}

	fake.err = errors.New("21608 unverified number")
	if err := w.Deliver(context.Background(), 1, "x", ""); err == nil {
		t.Fatal("expected twilio error to surface")
	}
}

func TestNormalizeWhatsAppAddress(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"":                  "",
		" 123 ":             "whatsapp:+123",
		"+123":              "whatsapp:+123",
		"whatsapp:+1555000": "whatsapp:+1555000",
	}
	for in, want := range cases {
		if got := normalizeWhatsAppAddress(in); got != want {
			t.Fatalf("normalizeWhatsAppAddress(%q) = %q, want %q", in, got, want)
		}
	}
}
