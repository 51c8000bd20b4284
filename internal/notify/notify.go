// Package notify persists user notifications and implements the
// fire-and-forget collaborator consumed by the engagement workflow.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kengash.org/internal/engagement"
	"kengash.org/internal/ids"
)

// Type classifies a notification record.
type Type string

const (
	TypeEngagementCreated       Type = "engagement_created"
	TypeEngagementStatusChanged Type = "engagement_status_changed"
	TypeEngagementUpdated       Type = "engagement_updated"
)

// Notification is a persisted message for one user.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Message   string            `json:"message"`
	Type      Type              `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	IsRead    bool              `json:"isRead"`
	CreatedAt time.Time         `json:"createdAt"`
}

// ErrNotFound is returned when a notification id does not resolve for the
// requesting user.
var ErrNotFound = errors.New("notify: not found")

// Store is the persistence contract for notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	// ListForUser returns the user's notifications newest-first, capped at limit.
	ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error)
	// MarkRead flips the read flag; ErrNotFound unless the record belongs to userID.
	MarkRead(ctx context.Context, id, userID string) error
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// Service creates notifications with the engagement fan-out rules: the
// assigned commissioner and the creator are told about changes they did not
// make themselves.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService wires the notification service.
func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

var _ engagement.Notifier = (*Service)(nil)

// EngagementCreated tells the assigned commissioner about a new request.
func (s *Service) EngagementCreated(ctx context.Context, e engagement.Engagement, actorID string) error {
	if e.CommissionerID == "" || e.CommissionerID == actorID {
		return nil
	}
	msg := fmt.Sprintf("New engagement request: %s - %s", e.ReferenceNo, e.Purpose)
	return s.create(ctx, e.CommissionerID, msg, TypeEngagementCreated, map[string]string{
		"engagementId": e.ID,
		"referenceNo":  e.ReferenceNo,
	})
}

// StatusChanged fans a status change out to the commissioner and the creator,
// skipping whoever made the change.
func (s *Service) StatusChanged(ctx context.Context, e engagement.Engagement, oldStatus, newStatus engagement.Status, actorID string) error {
	msg := fmt.Sprintf("Engagement %s %s", e.ReferenceNo, statusPhrase(newStatus))
	meta := map[string]string{
		"engagementId": e.ID,
		"referenceNo":  e.ReferenceNo,
		"oldStatus":    string(oldStatus),
		"newStatus":    string(newStatus),
	}
	return s.fanOut(ctx, e, actorID, msg, TypeEngagementStatusChanged, meta)
}

// EngagementUpdated fans a field update out to the commissioner and creator.
func (s *Service) EngagementUpdated(ctx context.Context, e engagement.Engagement, actorID string) error {
	msg := fmt.Sprintf("Engagement %s has been updated", e.ReferenceNo)
	return s.fanOut(ctx, e, actorID, msg, TypeEngagementUpdated, map[string]string{
		"engagementId": e.ID,
		"referenceNo":  e.ReferenceNo,
	})
}

func (s *Service) fanOut(ctx context.Context, e engagement.Engagement, actorID, msg string, typ Type, meta map[string]string) error {
	var firstErr error
	if e.CommissionerID != "" && e.CommissionerID != actorID {
		if err := s.create(ctx, e.CommissionerID, msg, typ, meta); err != nil {
			firstErr = err
		}
	}
	if e.CreatedBy != "" && e.CreatedBy != actorID && e.CreatedBy != e.CommissionerID {
		if err := s.create(ctx, e.CreatedBy, msg, typ, meta); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Service) create(ctx context.Context, userID, msg string, typ Type, meta map[string]string) error {
	n := Notification{
		ID:        ids.New(),
		UserID:    userID,
		Message:   msg,
		Type:      typ,
		Metadata:  meta,
		CreatedAt: s.now(),
	}
	return s.store.Create(ctx, &n)
}

// ListForUser exposes the user's notification feed.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListForUser(ctx, userID, limit)
}

// MarkRead marks one of the user's notifications as read.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	return s.store.MarkRead(ctx, id, userID)
}

// UnreadCount returns the user's unread notification count.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

func statusPhrase(status engagement.Status) string {
	switch status {
	case engagement.StatusScheduled:
		return "has been scheduled"
	case engagement.StatusApproved:
		return "has been approved"
	case engagement.StatusCompleted:
		return "has been completed"
	case engagement.StatusCancelled:
		return "has been cancelled"
	case engagement.StatusDraft:
		return "has been set to draft"
	default:
		return fmt.Sprintf("status changed to %s", status)
	}
}
