package businesscard

import (
	"context"
	"sync"

	"github.com/phax/phoss-directory-sub000/internal/identifier"
)

// Provider is the upstream source of business cards. It is treated as an
// opaque, potentially slow, potentially failing dependency.
//
// Fetch returns (nil, nil) when the provider has no data for the participant
// ("absent"). Partial, non-fatal problems during a fetch are reported through
// the ErrorCollector rather than returned.
type Provider interface {
	Fetch(ctx context.Context, id identifier.ParticipantID, errs ErrorCollector) (*BusinessCard, error)
}

// ErrorCollector accumulates non-fatal diagnostics during a fetch.
type ErrorCollector interface {
	Add(msg string)
}

// CollectingErrorHandler is the standard ErrorCollector: a concurrency-safe
// ordered list of diagnostic messages.
type CollectingErrorHandler struct {
	mu   sync.Mutex
	msgs []string
}

// NewCollectingErrorHandler creates an empty collector.
func NewCollectingErrorHandler() *CollectingErrorHandler {
	return &CollectingErrorHandler{}
}

// Add appends one diagnostic message.
func (c *CollectingErrorHandler) Add(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

// Messages returns a copy of all collected messages in insertion order.
func (c *CollectingErrorHandler) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// HasMessages reports whether anything was collected.
func (c *CollectingErrorHandler) HasMessages() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs) > 0
}
