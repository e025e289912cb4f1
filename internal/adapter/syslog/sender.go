package syslog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/V4T54L/logrelay/internal/adapter/metrics"
	"github.com/V4T54L/logrelay/internal/domain"
)

// Sender delivers formatted messages through a Transport. An oversized
// message is halved and retried until it is accepted or cannot shrink any
// further; any other transport error is returned as is.
type Sender struct {
	transport Transport
	limiter   *rate.Limiter
	metrics   *metrics.TailerMetrics
	logger    *slog.Logger
}

// NewSender creates a Sender. A nil limiter sends without pacing and nil
// metrics are not recorded.
func NewSender(transport Transport, limiter *rate.Limiter, m *metrics.TailerMetrics, logger *slog.Logger) *Sender {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Sender{
		transport: transport,
		limiter:   limiter,
		metrics:   m,
		logger:    logger.With("component", "syslog_sender"),
	}
}

func (s *Sender) Send(ctx context.Context, msg domain.FormattedMessage) error {
	text := msg.Text
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send cancelled: %w", err)
		}

		err := s.transport.Write(Encode(msg.Facility, msg.Priority, text))
		if err == nil {
			s.record("sent")
			return nil
		}
		if !errors.Is(err, ErrMessageTooLarge) {
			s.record("error")
			return fmt.Errorf("failed to send message: %w", err)
		}
		if len(text) <= 1 {
			s.record("error")
			return fmt.Errorf("message cannot be shortened further: %w", err)
		}

		shorter := halve(text)
		s.logger.Debug("message too large, halving", "from", len(text), "to", len(shorter))
		text = shorter
		if s.metrics != nil {
			s.metrics.Fragmentations.Inc()
		}
	}
}

func (s *Sender) record(status string) {
	if s.metrics != nil {
		s.metrics.MessagesSent.WithLabelValues(status).Inc()
	}
}

// halve returns roughly the first half of s, cut on a rune boundary when one
// exists. The result is always strictly shorter than s.
func halve(s string) string {
	n := len(s) / 2
	for i := n; i > 0; i-- {
		if utf8.RuneStart(s[i]) {
			return s[:i]
		}
	}
	return s[:n]
}
