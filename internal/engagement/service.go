package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"kengash.org/internal/auth"
	"kengash.org/internal/obs"
)

// Notifier is the fire-and-forget notification collaborator. Implementations
// must tolerate failure; the workflow logs notifier errors and never lets
// them fail the primary mutation.
type Notifier interface {
	EngagementCreated(ctx context.Context, e Engagement, actorID string) error
	EngagementUpdated(ctx context.Context, e Engagement, actorID string) error
	StatusChanged(ctx context.Context, e Engagement, oldStatus, newStatus Status, actorID string) error
}

// maxWriteAttempts bounds the reload-and-retry loop on version conflicts.
const maxWriteAttempts = 3

// Service orchestrates engagement and availability mutations: it loads state,
// consults the transition authorizer and the availability store, applies the
// write under the version token and triggers best-effort side effects.
type Service struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

// NewService wires the workflow. notifier may be nil.
func NewService(store Store, notifier Notifier) *Service {
	return &Service{store: store, notifier: notifier, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source. Test use.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateInput carries the engagement creation payload.
type CreateInput struct {
	ReferenceNo      string `json:"referenceNo"`
	Purpose          string `json:"purpose"`
	Description      string `json:"description"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	CommissionerID   string `json:"commissionerId"`
	RequestingUnitID string `json:"requestingUnitId"`
}

// Create persists a new draft engagement owned by the actor.
func (s *Service) Create(ctx context.Context, in CreateInput, actor auth.Actor) (Engagement, error) {
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleSecretariat, auth.RoleDepartmentUser:
	default:
		return Engagement{}, fmt.Errorf("%w: role %q may not create engagements", ErrForbidden, actor.Role)
	}
	if err := validateCreate(in); err != nil {
		return Engagement{}, err
	}

	now := s.now()
	e := Engagement{
		ID:               uuid.NewString(),
		ReferenceNo:      strings.TrimSpace(in.ReferenceNo),
		Purpose:          strings.TrimSpace(in.Purpose),
		Description:      strings.TrimSpace(in.Description),
		Date:             strings.TrimSpace(in.Date),
		Time:             strings.TrimSpace(in.Time),
		Status:           StatusDraft,
		CommissionerID:   in.CommissionerID,
		CreatedBy:        actor.ID,
		RequestingUnitID: in.RequestingUnitID,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}
	if err := s.store.CreateEngagement(ctx, &e); err != nil {
		return Engagement{}, err
	}
	if s.notifier != nil {
		if err := s.notifier.EngagementCreated(ctx, e, actor.ID); err != nil {
			s.logNotifyFailure("engagement.created", e.ID, err)
		}
	}
	return e, nil
}

func validateCreate(in CreateInput) error {
	if len(strings.TrimSpace(in.ReferenceNo)) < 3 {
		return fmt.Errorf("%w: referenceNo must be at least 3 characters", ErrValidation)
	}
	if len(strings.TrimSpace(in.Purpose)) < 5 {
		return fmt.Errorf("%w: purpose must be at least 5 characters", ErrValidation)
	}
	if _, err := uuid.Parse(in.CommissionerID); err != nil {
		return fmt.Errorf("%w: commissionerId must be a UUID", ErrValidation)
	}
	if _, err := combineDateTime(strings.TrimSpace(in.Date), strings.TrimSpace(in.Time)); err != nil {
		return err
	}
	return nil
}

// List returns the engagements visible to the actor, newest first.
// Oversight roles see everything, commissioners their assignments,
// everyone else only what they created.
func (s *Service) List(ctx context.Context, actor auth.Actor) ([]Engagement, error) {
	var f ListFilter
	switch {
	case actor.Role.IsOversight():
	case actor.Role == auth.RoleCommissioner:
		f.CommissionerID = actor.ID
	default:
		f.CreatedBy = actor.ID
	}
	return s.store.ListEngagements(ctx, f)
}

// Get fetches one engagement, enforcing the access rule: oversight roles,
// the assigned commissioner or the creator.
func (s *Service) Get(ctx context.Context, id string, actor auth.Actor) (Engagement, error) {
	e, err := s.store.GetEngagement(ctx, id)
	if err != nil {
		return Engagement{}, err
	}
	if !actor.Role.IsOversight() && e.CommissionerID != actor.ID && e.CreatedBy != actor.ID {
		return Engagement{}, fmt.Errorf("%w: no access to this engagement", ErrForbidden)
	}
	return e, nil
}

// Patch is a partial field update; nil fields are left unchanged.
type Patch struct {
	ReferenceNo      *string `json:"referenceNo"`
	Purpose          *string `json:"purpose"`
	Description      *string `json:"description"`
	Date             *string `json:"date"`
	Time             *string `json:"time"`
	CommissionerID   *string `json:"commissionerId"`
	RequestingUnitID *string `json:"requestingUnitId"`
}

// UpdateFields applies a role-scoped partial update. Commissioners may only
// move their own engagements in time (other patch keys are silently dropped);
// department users may edit only their own drafts. A date, time or
// commissioner change re-validates availability.
func (s *Service) UpdateFields(ctx context.Context, id string, patch Patch, actor auth.Actor) (Engagement, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		e, err := s.store.GetEngagement(ctx, id)
		if err != nil {
			return Engagement{}, err
		}

		scoped := patch
		switch {
		case actor.Role.IsOversight():
		case actor.Role == auth.RoleCommissioner:
			if e.CommissionerID != actor.ID {
				return Engagement{}, fmt.Errorf("%w: engagement is assigned to another commissioner", ErrForbidden)
			}
			// Commissioners reschedule only; everything else is dropped.
			scoped = Patch{Date: patch.Date, Time: patch.Time}
		case actor.Role == auth.RoleDepartmentUser:
			if e.CreatedBy != actor.ID {
				return Engagement{}, fmt.Errorf("%w: only the creator may edit this engagement", ErrForbidden)
			}
			if e.Status != StatusDraft {
				return Engagement{}, fmt.Errorf("%w: requests can only be edited while in draft", ErrForbidden)
			}
		default:
			return Engagement{}, fmt.Errorf("%w: role %q may not edit engagements", ErrForbidden, actor.Role)
		}

		updated, scheduleChanged, err := applyPatch(e, scoped)
		if err != nil {
			return Engagement{}, err
		}
		if scheduleChanged {
			at, err := updated.ScheduledAt()
			if err != nil {
				return Engagement{}, err
			}
			ok, err := s.store.IsAvailable(ctx, updated.CommissionerID, at)
			if err != nil {
				return Engagement{}, err
			}
			if !ok {
				return Engagement{}, fmt.Errorf("%w: commissioner is not available at the selected time", ErrSchedulingConflict)
			}
		}

		persisted, err := s.store.UpdateEngagement(ctx, updated, e.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return Engagement{}, err
		}
		if s.notifier != nil {
			if err := s.notifier.EngagementUpdated(ctx, persisted, actor.ID); err != nil {
				s.logNotifyFailure("engagement.updated", persisted.ID, err)
			}
		}
		return persisted, nil
	}
	return Engagement{}, fmt.Errorf("update engagement %s: %w", id, ErrVersionConflict)
}

func applyPatch(e Engagement, p Patch) (Engagement, bool, error) {
	scheduleChanged := false
	if p.ReferenceNo != nil {
		ref := strings.TrimSpace(*p.ReferenceNo)
		if len(ref) < 3 {
			return Engagement{}, false, fmt.Errorf("%w: referenceNo must be at least 3 characters", ErrValidation)
		}
		e.ReferenceNo = ref
	}
	if p.Purpose != nil {
		purpose := strings.TrimSpace(*p.Purpose)
		if len(purpose) < 5 {
			return Engagement{}, false, fmt.Errorf("%w: purpose must be at least 5 characters", ErrValidation)
		}
		e.Purpose = purpose
	}
	if p.Description != nil {
		e.Description = strings.TrimSpace(*p.Description)
	}
	if p.Date != nil && strings.TrimSpace(*p.Date) != e.Date {
		e.Date = strings.TrimSpace(*p.Date)
		scheduleChanged = true
	}
	if p.Time != nil && strings.TrimSpace(*p.Time) != e.Time {
		e.Time = strings.TrimSpace(*p.Time)
		scheduleChanged = true
	}
	if p.CommissionerID != nil && *p.CommissionerID != e.CommissionerID {
		if _, err := uuid.Parse(*p.CommissionerID); err != nil {
			return Engagement{}, false, fmt.Errorf("%w: commissionerId must be a UUID", ErrValidation)
		}
		e.CommissionerID = *p.CommissionerID
		scheduleChanged = true
	}
	if p.RequestingUnitID != nil {
		e.RequestingUnitID = *p.RequestingUnitID
	}
	if scheduleChanged {
		if _, err := e.ScheduledAt(); err != nil {
			return Engagement{}, false, err
		}
	}
	return e, scheduleChanged, nil
}

// UpdateStatus runs the transition workflow: authorizer verdict, availability
// gate for the scheduled target, version-checked persist, best-effort
// status-changed notification. A department user cancelling their own request
// soft-deletes the record; the returned payload still reports "cancelled".
func (s *Service) UpdateStatus(ctx context.Context, id string, target Status, actor auth.Actor, adminReason string) (Engagement, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		e, err := s.store.GetEngagement(ctx, id)
		if err != nil {
			return Engagement{}, err
		}

		scheduledAt, _ := e.ScheduledAt() // zero instant when unparseable; created records always parse
		effect, err := Decide(TransitionRequest{
			Role:                 actor.Role,
			Current:              e.Status,
			Target:               target,
			AssignedCommissioner: e.CommissionerID == actor.ID,
			Creator:              e.CreatedBy == actor.ID,
			AdminReason:          adminReason,
			Now:                  s.now(),
			ScheduledAt:          scheduledAt,
		})
		if err != nil {
			return Engagement{}, err
		}

		switch effect {
		case EffectNone:
			// Same-status request: succeed without writing or notifying.
			return e, nil

		case EffectUpdate:
			if target == StatusScheduled {
				ok, err := s.store.IsAvailable(ctx, e.CommissionerID, scheduledAt)
				if err != nil {
					return Engagement{}, err
				}
				if !ok {
					return Engagement{}, fmt.Errorf("%w: commissioner is not available at the selected time", ErrSchedulingConflict)
				}
			}
			oldStatus := e.Status
			e.Status = target
			persisted, err := s.store.UpdateEngagement(ctx, e, e.Version)
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			if err != nil {
				return Engagement{}, err
			}
			s.notifyStatusChanged(ctx, persisted, oldStatus, target, actor.ID)
			return persisted, nil

		case EffectSoftDelete:
			oldStatus := e.Status
			err := s.store.SoftDeleteEngagement(ctx, id, e.Version)
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			if err != nil {
				return Engagement{}, err
			}
			// The record disappears from listings; the caller still gets the
			// cancelled shape back.
			e.Status = StatusCancelled
			s.notifyStatusChanged(ctx, e, oldStatus, StatusCancelled, actor.ID)
			return e, nil
		}
	}
	return Engagement{}, fmt.Errorf("update engagement %s status: %w", id, ErrVersionConflict)
}

func (s *Service) notifyStatusChanged(ctx context.Context, e Engagement, oldStatus, newStatus Status, actorID string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.StatusChanged(ctx, e, oldStatus, newStatus, actorID); err != nil {
		s.logNotifyFailure("engagement.status_changed", e.ID, err)
	}
}

func (s *Service) logNotifyFailure(event, engagementID string, err error) {
	obs.Warn("notification delivery failed", map[string]any{
		"event":         event,
		"engagement_id": engagementID,
		"error":         err.Error(),
	})
}

// SlotInput carries an availability slot creation payload.
type SlotInput struct {
	CommissionerID string    `json:"commissionerId"`
	StartTime      time.Time `json:"start"`
	EndTime        time.Time `json:"end"`
}

// CreateSlot adds an availability slot. Oversight roles may create for any
// commissioner; a commissioner only for themselves.
func (s *Service) CreateSlot(ctx context.Context, in SlotInput, actor auth.Actor) (AvailabilitySlot, error) {
	switch {
	case actor.Role.IsOversight():
	case actor.Role == auth.RoleCommissioner:
		if in.CommissionerID != actor.ID {
			return AvailabilitySlot{}, fmt.Errorf("%w: commissioners can only manage their own availability", ErrForbidden)
		}
	default:
		return AvailabilitySlot{}, fmt.Errorf("%w: role %q may not manage availability", ErrForbidden, actor.Role)
	}
	if in.CommissionerID == "" {
		return AvailabilitySlot{}, fmt.Errorf("%w: commissionerId is required", ErrValidation)
	}
	if err := validateInterval(in.StartTime, in.EndTime); err != nil {
		return AvailabilitySlot{}, err
	}
	if conflict, found, err := s.store.FindOverlap(ctx, in.CommissionerID, in.StartTime, in.EndTime, ""); err != nil {
		return AvailabilitySlot{}, err
	} else if found {
		return AvailabilitySlot{}, overlapError(conflict)
	}

	slot := AvailabilitySlot{
		ID:             uuid.NewString(),
		CommissionerID: in.CommissionerID,
		StartTime:      in.StartTime.UTC(),
		EndTime:        in.EndTime.UTC(),
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateSlot(ctx, &slot); err != nil {
		return AvailabilitySlot{}, err
	}
	return slot, nil
}

// SlotPatch moves a slot's boundaries; nil fields are left unchanged.
type SlotPatch struct {
	StartTime *time.Time `json:"start"`
	EndTime   *time.Time `json:"end"`
}

// UpdateSlot edits a slot. Narrower than creation on purpose: only the owning
// commissioner may edit, oversight roles may not.
func (s *Service) UpdateSlot(ctx context.Context, id string, patch SlotPatch, actor auth.Actor) (AvailabilitySlot, error) {
	slot, err := s.store.GetSlot(ctx, id)
	if err != nil {
		return AvailabilitySlot{}, err
	}
	if err := requireSlotOwner(slot, actor); err != nil {
		return AvailabilitySlot{}, err
	}

	if patch.StartTime != nil {
		slot.StartTime = patch.StartTime.UTC()
	}
	if patch.EndTime != nil {
		slot.EndTime = patch.EndTime.UTC()
	}
	if err := validateInterval(slot.StartTime, slot.EndTime); err != nil {
		return AvailabilitySlot{}, err
	}
	if conflict, found, err := s.store.FindOverlap(ctx, slot.CommissionerID, slot.StartTime, slot.EndTime, slot.ID); err != nil {
		return AvailabilitySlot{}, err
	} else if found {
		return AvailabilitySlot{}, overlapError(conflict)
	}
	if err := s.store.UpdateSlot(ctx, slot); err != nil {
		return AvailabilitySlot{}, err
	}
	return slot, nil
}

// DeleteSlot removes a slot, with the same ownership rule as UpdateSlot.
func (s *Service) DeleteSlot(ctx context.Context, id string, actor auth.Actor) error {
	slot, err := s.store.GetSlot(ctx, id)
	if err != nil {
		return err
	}
	if err := requireSlotOwner(slot, actor); err != nil {
		return err
	}
	return s.store.DeleteSlot(ctx, id)
}

// ListSlots lists availability. Commissioners see their own slots by default;
// an explicit commissionerId narrows the listing for anyone.
func (s *Service) ListSlots(ctx context.Context, commissionerID string, actor auth.Actor) ([]AvailabilitySlot, error) {
	if commissionerID == "" && actor.Role == auth.RoleCommissioner {
		commissionerID = actor.ID
	}
	return s.store.ListSlots(ctx, commissionerID)
}

func requireSlotOwner(slot AvailabilitySlot, actor auth.Actor) error {
	if actor.Role != auth.RoleCommissioner || actor.ID != slot.CommissionerID {
		return fmt.Errorf("%w: only the owning commissioner may change this availability slot", ErrForbidden)
	}
	return nil
}

func validateInterval(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrValidation)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end must be after start", ErrValidation)
	}
	return nil
}

func overlapError(conflict AvailabilitySlot) error {
	return fmt.Errorf("%w: availability overlaps an existing slot %s", ErrSchedulingConflict, conflict.ID)
}
