package fake

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BearBump/FreightDesk/internal/integrations/notifier"
)

// Sink logs notifications and keeps them in memory. Used when no webhook is configured.
type Sink struct {
	mu   sync.Mutex
	sent []notifier.Notification
}

func New() *Sink { return &Sink{} }

func (s *Sink) Notify(_ context.Context, n notifier.Notification) error {
	slog.Info("notification",
		"kind", n.Kind,
		"account_id", n.AccountID,
		"trip_id", n.TripID,
		"advisories", len(n.Advisories),
		"message", n.Message)

	s.mu.Lock()
	s.sent = append(s.sent, n)
	s.mu.Unlock()
	return nil
}

// Sent returns a copy of everything delivered so far.
func (s *Sink) Sent() []notifier.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notifier.Notification(nil), s.sent...)
}
