// Package store provides feedback persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/alertbot/internal/domain"
)

// FeedbackRepository is an append-only sink for satisfaction records.
type FeedbackRepository interface {
	// SaveFeedback appends one record. Failures are returned, never retried.
	SaveFeedback(ctx context.Context, f *domain.Feedback) error

	// ListFeedback returns every record in insertion order.
	ListFeedback(ctx context.Context) ([]domain.Feedback, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}
