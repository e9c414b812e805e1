package projector

import (
	"context"

	"example.com/backstage/feed/internal/models"
)

// Sink applies a single event to a read model. Apply may be called more than once
// for the same event, so implementations should tolerate reapplication.
type Sink interface {
	Apply(ctx context.Context, event models.Event) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, event models.Event) error

// Apply calls f
func (f SinkFunc) Apply(ctx context.Context, event models.Event) error {
	return f(ctx, event)
}
