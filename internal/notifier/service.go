package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flowup/internal/eventbus"
	logx "flowup/pkg/logx"

	"golang.org/x/time/rate"
)

// Service fans a notification out to every sink.
//
// It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	sinks   []Sink
	limiter *rate.Limiter
	histMax int

	log logx.Logger
	bus eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds the sinks enabled in cfg. With nothing enabled it falls back to
// the log sink so reminders are never silently dropped.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.Component("notifier"))

	sinks, err := buildSinks(cfg, log)
	if err != nil {
		return nil, err
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NewLogSink(log))
	}
	return NewWithSinks(cfg, log, bus, sinks...), nil
}

// NewWithSinks wires explicit sinks. Used by tests and by New.
func NewWithSinks(cfg Config, log logx.Logger, bus eventbus.Bus, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus, sinks: sinks}
	s.applyLimits(cfg)
	return s
}

func buildSinks(cfg Config, log logx.Logger) ([]Sink, error) {
	var sinks []Sink
	if cfg.Log.Enabled {
		sinks = append(sinks, NewLogSink(log))
	}
	if cfg.Telegram.Enabled {
		tg, err := NewTelegram(cfg.Telegram)
		if err != nil {
			return nil, fmt.Errorf("telegram sink: %w", err)
		}
		sinks = append(sinks, tg)
	}
	if cfg.Slack.Enabled {
		sl, err := NewSlack(cfg.Slack)
		if err != nil {
			return nil, fmt.Errorf("slack sink: %w", err)
		}
		sinks = append(sinks, sl)
	}
	if cfg.WhatsApp.Enabled {
		wa, err := NewWhatsApp(cfg.WhatsApp)
		if err != nil {
			return nil, fmt.Errorf("whatsapp sink: %w", err)
		}
		sinks = append(sinks, wa)
	}
	return sinks, nil
}

// Apply rebuilds the sinks and limits from cfg. On error the previous sinks stay.
func (s *Service) Apply(cfg Config) error {
	sinks, err := buildSinks(cfg, s.log)
	if err != nil {
		return err
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NewLogSink(s.log))
	}
	s.mu.Lock()
	s.sinks = sinks
	s.mu.Unlock()
	s.applyLimits(cfg)
	return nil
}

func (s *Service) applyLimits(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histMax = cfg.HistorySize
	if s.histMax <= 0 {
		s.histMax = 100
	}
	if cfg.RatePerSec > 0 {
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	} else {
		s.limiter = nil
	}
}

// SinkNames lists the active sinks.
func (s *Service) SinkNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sinks))
	for _, sk := range s.sinks {
		out = append(out, sk.Name())
	}
	return out
}

// Deliver sends to every sink once. It returns the joined sink errors.
func (s *Service) Deliver(ctx context.Context, activityID int64, title, message string) error {
	s.mu.Lock()
	sinks := append([]Sink(nil), s.sinks...)
	lim := s.limiter
	s.mu.Unlock()

	if len(sinks) == 0 {
		return ErrNoSinks
	}
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	item := HistoryItem{At: time.Now(), ActivityID: activityID, Title: title}
	var errs []error
	for _, sk := range sinks {
		item.Sinks = append(item.Sinks, sk.Name())
		err := sk.Deliver(ctx, activityID, title, message)
		ev := NotificationEvent{ActivityID: activityID, Sink: sk.Name(), At: time.Now()}
		if err != nil {
			ev.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", sk.Name(), err))
			eventbus.Publish(s.bus, "notification.failed", ev)
			continue
		}
		eventbus.Publish(s.bus, "notification.sent", ev)
	}
	err := errors.Join(errs...)
	if err != nil {
		item.Error = err.Error()
	}
	s.record(item)
	return err
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	max := s.histMax
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

// History returns the most recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}
