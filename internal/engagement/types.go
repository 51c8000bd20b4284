package engagement

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an engagement.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusApproved, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseStatus normalizes and validates a status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(strings.ToLower(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
	}
	return s, nil
}

// Engagement is a scheduled meeting request between a requesting party and a
// commissioner. Status changes go through the transition authorizer only.
type Engagement struct {
	ID               string    `json:"id"`
	ReferenceNo      string    `json:"referenceNo"`
	Purpose          string    `json:"purpose"`
	Description      string    `json:"description,omitempty"`
	Date             string    `json:"date"` // YYYY-MM-DD
	Time             string    `json:"time"` // HH:MM or HH:MM:SS
	Status           Status    `json:"status"`
	CommissionerID   string    `json:"commissionerId"`
	CreatedBy        string    `json:"createdBy,omitempty"`
	RequestingUnitID string    `json:"requestingUnitId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`

	// Version is the optimistic-concurrency token bumped on every write.
	Version int64 `json:"-"`

	// DeletedAt marks a soft-deleted record. Soft-deleted engagements are
	// hidden from listings and lookups but kept by the store.
	DeletedAt *time.Time `json:"-"`
}

// ScheduledAt combines the date and time fields into a single UTC instant.
func (e Engagement) ScheduledAt() (time.Time, error) {
	return combineDateTime(e.Date, e.Time)
}

func combineDateTime(date, clock string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, date+" "+clock, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid date/time %q %q", ErrValidation, date, clock)
}

// AvailabilitySlot is a bounded interval during which a commissioner is
// bookable. Active slots of one commissioner never overlap.
type AvailabilitySlot struct {
	ID             string    `json:"id"`
	CommissionerID string    `json:"commissionerId"`
	StartTime      time.Time `json:"start"`
	EndTime        time.Time `json:"end"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ListFilter narrows an engagement listing. Zero value lists everything.
type ListFilter struct {
	CommissionerID string
	CreatedBy      string
}

// Error taxonomy. All of these are recoverable, user-facing errors; anything
// else coming out of a store is treated as an unexpected failure.
var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrValidation         = errors.New("validation failed")
	ErrSchedulingConflict = errors.New("scheduling conflict")

	// ErrVersionConflict signals a concurrent write detected by the version
	// token. The workflow retries it; it is never surfaced to callers.
	ErrVersionConflict = errors.New("version conflict")
)
