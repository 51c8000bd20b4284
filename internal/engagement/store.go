package engagement

import (
	"context"
	"time"
)

// Store is the persistence contract for engagements and availability slots.
// Implementations: InMemory (below, used by unit tests) and the Postgres
// store in internal/store/pg.
type Store interface {
	CreateEngagement(ctx context.Context, e *Engagement) error
	// GetEngagement resolves an active (not soft-deleted) engagement.
	GetEngagement(ctx context.Context, id string) (Engagement, error)
	// ListEngagements returns active engagements newest-first.
	ListEngagements(ctx context.Context, f ListFilter) ([]Engagement, error)
	// UpdateEngagement writes e if the stored version still equals
	// expectedVersion, bumping the version; otherwise ErrVersionConflict.
	UpdateEngagement(ctx context.Context, e Engagement, expectedVersion int64) (Engagement, error)
	// SoftDeleteEngagement hides the record from listings and lookups while
	// keeping it in the store. Same version discipline as UpdateEngagement.
	SoftDeleteEngagement(ctx context.Context, id string, expectedVersion int64) error

	CreateSlot(ctx context.Context, s *AvailabilitySlot) error
	GetSlot(ctx context.Context, id string) (AvailabilitySlot, error)
	// ListSlots returns slots ordered by start time; empty commissionerID
	// lists all commissioners.
	ListSlots(ctx context.Context, commissionerID string) ([]AvailabilitySlot, error)
	UpdateSlot(ctx context.Context, s AvailabilitySlot) error
	DeleteSlot(ctx context.Context, id string) error

	// FindOverlap returns a slot of the commissioner satisfying the strict
	// overlap predicate (start < end' && end > start'), excluding excludeID
	// when editing an existing slot.
	FindOverlap(ctx context.Context, commissionerID string, start, end time.Time, excludeID string) (AvailabilitySlot, bool, error)
	// IsAvailable reports whether some slot contains the instant with closed
	// bounds (start <= at <= end). Containment, not overlap: boundary
	// equality counts.
	IsAvailable(ctx context.Context, commissionerID string, at time.Time) (bool, error)
}
