package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	EventSent   = "notify.sent"
	EventFailed = "notify.failed"
)

var ErrEmptyText = errors.New("notifier: empty text")

// Sender is the part of kit.Adapter the notifier needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Deliver sends text to the target once. It waits for the rate limiter within
// ctx and returns the send error unchanged (wrapped) for the caller to log.
func (s *Service) Deliver(ctx context.Context, to kit.ChatTarget, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	s.mu.Lock()
	lim, timeout := s.limiter, s.cfg.Timeout
	s.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	_, err := s.sender.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true})
	item := HistoryItem{At: start, ChatID: to.ChatID, Text: text}
	ev := NotificationEvent{ChatID: to.ChatID, ThreadID: to.ThreadID, At: start}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		s.publish(EventFailed, ev)
		s.record(item)
		return fmt.Errorf("send to chat %d: %w", to.ChatID, err)
	}
	s.log.Debug("notification sent", logx.Int64("chat_id", to.ChatID), logx.Duration("dur", time.Since(start)))
	s.publish(EventSent, ev)
	s.record(item)
	return nil
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	n := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
