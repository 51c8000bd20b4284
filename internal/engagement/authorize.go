package engagement

import (
	"fmt"
	"strings"
	"time"

	"kengash.org/internal/auth"
)

// Effect describes what applying an allowed transition does to the record.
type Effect int

const (
	// EffectNone means the target equals the current status: succeed without
	// writing or notifying.
	EffectNone Effect = iota
	// EffectUpdate is an ordinary status field write.
	EffectUpdate
	// EffectSoftDelete removes the record from standard listings instead of
	// writing the status field. Used only for a department user cancelling
	// their own engagement; the caller still reports status "cancelled".
	EffectSoftDelete
)

// minAdminReasonLen is the minimum trimmed length of the justification text
// required for administrative cancellations.
const minAdminReasonLen = 10

// TransitionRequest carries everything the authorizer needs to decide.
// It is deliberately free of I/O: ownership flags and the scheduled instant
// are resolved by the workflow before the call.
type TransitionRequest struct {
	Role    auth.Role
	Current Status
	Target  Status

	// AssignedCommissioner is true when the actor is the engagement's
	// commissioner; Creator when the actor created the engagement.
	AssignedCommissioner bool
	Creator              bool

	// AdminReason is the justification supplied with administrative
	// cancellations.
	AdminReason string

	Now         time.Time
	ScheduledAt time.Time
}

// Decide is the transition authorizer: given the actor's role, the current
// and requested statuses and the ownership flags, it returns the effect of
// an allowed transition or a taxonomy error explaining the denial.
//
// Ownership checks precede status checks, so a non-owner always gets a
// forbidden error rather than a status-specific message.
func Decide(req TransitionRequest) (Effect, error) {
	if !req.Target.Valid() {
		return EffectNone, fmt.Errorf("%w: unknown status %q", ErrValidation, req.Target)
	}

	switch req.Role {
	case auth.RoleAdmin, auth.RoleSecretariat:
		return decideOversight(req)
	case auth.RoleCommissioner:
		if !req.AssignedCommissioner {
			return EffectNone, fmt.Errorf("%w: engagement is assigned to another commissioner", ErrForbidden)
		}
		return decideCommissioner(req)
	case auth.RoleDepartmentUser:
		if !req.Creator {
			return EffectNone, fmt.Errorf("%w: only the creator may change this engagement", ErrForbidden)
		}
		return decideDepartmentUser(req)
	default:
		return EffectNone, fmt.Errorf("%w: role %q may not change engagement status", ErrForbidden, req.Role)
	}
}

func decideOversight(req TransitionRequest) (Effect, error) {
	if req.Current.Terminal() {
		return EffectNone, fmt.Errorf("%w: %s engagements cannot be modified", ErrInvalidTransition, req.Current)
	}
	if req.Target == req.Current {
		return EffectNone, nil
	}

	switch req.Target {
	case StatusCancelled:
		// Reason length is validated before the current-status path rule so
		// a missing reason fails the same way from any non-terminal state.
		if len(strings.TrimSpace(req.AdminReason)) < minAdminReasonLen {
			return EffectNone, fmt.Errorf("%w: administrative cancellation requires a reason of at least %d characters", ErrValidation, minAdminReasonLen)
		}
		if req.Current != StatusDraft && req.Current != StatusScheduled {
			return EffectNone, fmt.Errorf("%w: %s engagements may only be cancelled by the assigned commissioner", ErrInvalidTransition, req.Current)
		}
		return EffectUpdate, nil
	case StatusScheduled:
		if req.Current != StatusDraft {
			return EffectNone, fmt.Errorf("%w: only draft engagements can be scheduled", ErrInvalidTransition)
		}
		return EffectUpdate, nil
	case StatusApproved, StatusCompleted:
		return EffectNone, fmt.Errorf("%w: %s is set by the assigned commissioner", ErrInvalidTransition, req.Target)
	default: // StatusDraft
		return EffectNone, fmt.Errorf("%w: a %s engagement cannot revert to draft", ErrInvalidTransition, req.Current)
	}
}

func decideCommissioner(req TransitionRequest) (Effect, error) {
	if req.Current.Terminal() {
		return EffectNone, fmt.Errorf("%w: %s engagements cannot be modified", ErrInvalidTransition, req.Current)
	}
	if req.Target == req.Current {
		return EffectNone, nil
	}

	switch req.Current {
	case StatusScheduled:
		if req.Target == StatusApproved || req.Target == StatusCancelled {
			return EffectUpdate, nil
		}
		return EffectNone, fmt.Errorf("%w: a scheduled engagement may be approved or cancelled", ErrInvalidTransition)
	case StatusApproved:
		switch req.Target {
		case StatusCompleted:
			if req.Now.Before(req.ScheduledAt) {
				return EffectNone, fmt.Errorf("%w: an engagement cannot be completed before its scheduled time", ErrInvalidTransition)
			}
			return EffectUpdate, nil
		case StatusCancelled:
			return EffectUpdate, nil
		default:
			return EffectNone, fmt.Errorf("%w: an approved engagement may be completed or cancelled", ErrInvalidTransition)
		}
	default: // StatusDraft
		return EffectNone, fmt.Errorf("%w: only scheduled or approved engagements may be changed", ErrInvalidTransition)
	}
}

func decideDepartmentUser(req TransitionRequest) (Effect, error) {
	if req.Current.Terminal() {
		return EffectNone, fmt.Errorf("%w: %s engagements cannot be modified", ErrInvalidTransition, req.Current)
	}
	if req.Target == req.Current {
		return EffectNone, nil
	}
	if req.Target == StatusCompleted {
		return EffectNone, fmt.Errorf("%w: department users cannot complete an engagement", ErrInvalidTransition)
	}

	switch req.Current {
	case StatusDraft:
		switch req.Target {
		case StatusScheduled:
			return EffectUpdate, nil
		case StatusCancelled:
			return EffectSoftDelete, nil
		default:
			return EffectNone, fmt.Errorf("%w: a draft request may be scheduled or cancelled", ErrInvalidTransition)
		}
	case StatusScheduled:
		if req.Target == StatusCancelled {
			return EffectSoftDelete, nil
		}
		return EffectNone, fmt.Errorf("%w: a scheduled request may only be cancelled", ErrInvalidTransition)
	default: // StatusApproved
		return EffectNone, fmt.Errorf("%w: an approved request can no longer be changed by the requesting unit", ErrInvalidTransition)
	}
}
