package engagement

import (
	"context"
	"errors"
	"testing"
	"time"

	"kengash.org/internal/auth"
)

const (
	commissionerID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	otherCommID    = "550e8400-e29b-41d4-a716-446655440000"
	deptUserID     = "9b2d7f3a-1c4e-4f5a-8b6c-2d3e4f5a6b7c"
)

var (
	actorAdmin       = auth.Actor{ID: "a0000000-0000-4000-8000-000000000001", Role: auth.RoleAdmin}
	actorSecretariat = auth.Actor{ID: "a0000000-0000-4000-8000-000000000002", Role: auth.RoleSecretariat}
	actorComm        = auth.Actor{ID: commissionerID, Role: auth.RoleCommissioner}
	actorOtherComm   = auth.Actor{ID: otherCommID, Role: auth.RoleCommissioner}
	actorDept        = auth.Actor{ID: deptUserID, Role: auth.RoleDepartmentUser}
	actorAuditor     = auth.Actor{ID: "a0000000-0000-4000-8000-000000000003", Role: auth.RoleAuditor}
)

type notifierCall struct {
	kind      string
	userSeen  string // actor who triggered it
	oldStatus Status
	newStatus Status
}

type fakeNotifier struct {
	calls []notifierCall
	fail  error
}

func (f *fakeNotifier) EngagementCreated(ctx context.Context, e Engagement, actorID string) error {
	f.calls = append(f.calls, notifierCall{kind: "created", userSeen: actorID})
	return f.fail
}

func (f *fakeNotifier) EngagementUpdated(ctx context.Context, e Engagement, actorID string) error {
	f.calls = append(f.calls, notifierCall{kind: "updated", userSeen: actorID})
	return f.fail
}

func (f *fakeNotifier) StatusChanged(ctx context.Context, e Engagement, oldStatus, newStatus Status, actorID string) error {
	f.calls = append(f.calls, notifierCall{kind: "status", userSeen: actorID, oldStatus: oldStatus, newStatus: newStatus})
	return f.fail
}

func newTestService(t *testing.T) (*Service, *InMemory, *fakeNotifier) {
	t.Helper()
	store := NewInMemory()
	notifier := &fakeNotifier{}
	svc := NewService(store, notifier).WithClock(func() time.Time {
		return time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	})
	return svc, store, notifier
}

func mustCreateSlot(t *testing.T, svc *Service, commID string, start, end time.Time) AvailabilitySlot {
	t.Helper()
	slot, err := svc.CreateSlot(context.Background(), SlotInput{
		CommissionerID: commID,
		StartTime:      start,
		EndTime:        end,
	}, actorAdmin)
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	return slot
}

func mustCreate(t *testing.T, svc *Service, actor auth.Actor, ref string) Engagement {
	t.Helper()
	e, err := svc.Create(context.Background(), CreateInput{
		ReferenceNo:    ref,
		Purpose:        "Quarterly budget review",
		Date:           "2024-06-01",
		Time:           "10:30",
		CommissionerID: commissionerID,
	}, actor)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return e
}

func slotWindow() (time.Time, time.Time) {
	return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	base := CreateInput{
		ReferenceNo:    "REF-001",
		Purpose:        "Quarterly budget review",
		Date:           "2024-06-01",
		Time:           "10:30",
		CommissionerID: commissionerID,
	}

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"short reference", func(in *CreateInput) { in.ReferenceNo = "ab" }},
		{"short purpose", func(in *CreateInput) { in.Purpose = "why" }},
		{"bad commissioner id", func(in *CreateInput) { in.CommissionerID = "not-a-uuid" }},
		{"bad date", func(in *CreateInput) { in.Date = "01/06/2024" }},
		{"bad time", func(in *CreateInput) { in.Time = "half past ten" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			if _, err := svc.Create(ctx, in, actorDept); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	t.Run("commissioner may not create", func(t *testing.T) {
		if _, err := svc.Create(ctx, base, actorComm); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})
	t.Run("auditor may not create", func(t *testing.T) {
		if _, err := svc.Create(ctx, base, actorAuditor); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("duplicate reference", func(t *testing.T) {
		if _, err := svc.Create(ctx, base, actorDept); err != nil {
			t.Fatalf("first create: %v", err)
		}
		if _, err := svc.Create(ctx, base, actorAdmin); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation on duplicate reference, got %v", err)
		}
	})
}

func TestCreateStartsAsDraft(t *testing.T) {
	svc, _, notifier := newTestService(t)

	e := mustCreate(t, svc, actorDept, "REF-100")
	if e.Status != StatusDraft {
		t.Fatalf("expected draft, got %s", e.Status)
	}
	if e.CreatedBy != deptUserID {
		t.Fatalf("expected creator %s, got %s", deptUserID, e.CreatedBy)
	}
	if e.Version != 1 {
		t.Fatalf("expected version 1, got %d", e.Version)
	}
	if len(notifier.calls) != 1 || notifier.calls[0].kind != "created" {
		t.Fatalf("expected a single created notification, got %+v", notifier.calls)
	}
}

func TestScheduleInsideAvailability(t *testing.T) {
	svc, _, _ := newTestService(t)
	start, end := slotWindow()
	mustCreateSlot(t, svc, commissionerID, start, end)
	e := mustCreate(t, svc, actorDept, "REF-200")

	got, err := svc.UpdateStatus(context.Background(), e.ID, StatusScheduled, actorDept, "")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got.Status != StatusScheduled {
		t.Fatalf("expected scheduled, got %s", got.Status)
	}
}

func TestScheduleOutsideAvailability(t *testing.T) {
	svc, _, _ := newTestService(t)
	start, end := slotWindow()
	mustCreateSlot(t, svc, commissionerID, start, end)

	e, err := svc.Create(context.Background(), CreateInput{
		ReferenceNo:    "REF-201",
		Purpose:        "Quarterly budget review",
		Date:           "2024-06-01",
		Time:           "11:30", // slot ends at 11:00
		CommissionerID: commissionerID,
	}, actorDept)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.UpdateStatus(context.Background(), e.ID, StatusScheduled, actorDept, ""); !errors.Is(err, ErrSchedulingConflict) {
		t.Fatalf("expected ErrSchedulingConflict, got %v", err)
	}
}

func TestScheduleAtSlotBoundary(t *testing.T) {
	svc, _, _ := newTestService(t)
	start, end := slotWindow()
	mustCreateSlot(t, svc, commissionerID, start, end)

	e, err := svc.Create(context.Background(), CreateInput{
		ReferenceNo:    "REF-202",
		Purpose:        "Quarterly budget review",
		Date:           "2024-06-01",
		Time:           "11:00", // closed interval: the end boundary counts
		CommissionerID: commissionerID,
	}, actorDept)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := svc.UpdateStatus(context.Background(), e.ID, StatusScheduled, actorDept, "")
	if err != nil {
		t.Fatalf("UpdateStatus at boundary: %v", err)
	}
	if got.Status != StatusScheduled {
		t.Fatalf("expected scheduled, got %s", got.Status)
	}
}

func TestApprovalFlow(t *testing.T) {
	svc, _, notifier := newTestService(t)
	start, end := slotWindow()
	mustCreateSlot(t, svc, commissionerID, start, end)
	e := mustCreate(t, svc, actorDept, "REF-300")
	ctx := context.Background()

	if _, err := svc.UpdateStatus(ctx, e.ID, StatusScheduled, actorDept, ""); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, e.ID, StatusApproved, actorOtherComm, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-assigned commissioner, got %v", err)
	}

	approved, err := svc.UpdateStatus(ctx, e.ID, StatusApproved, actorComm, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}

	// Clock is 2024-06-02, engagement was scheduled for 2024-06-01 10:30.
	completed, err := svc.UpdateStatus(ctx, e.ID, StatusCompleted, actorComm, "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}

	var statusChanges int
	for _, c := range notifier.calls {
		if c.kind == "status" {
			statusChanges++
		}
	}
	if statusChanges != 3 {
		t.Fatalf("expected 3 status notifications, got %d (%+v)", statusChanges, notifier.calls)
	}
}

func TestEarlyCompletionRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	start, end := slotWindow()
	mustCreateSlot(t, svc, commissionerID, start, end)
	e := mustCreate(t, svc, actorDept, "REF-301")
	ctx := context.Background()

	// Move the clock to before the scheduled instant.
	svc.WithClock(func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) })

	if _, err := svc.UpdateStatus(ctx, e.ID, StatusScheduled, actorDept, ""); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, e.ID, StatusApproved, actorComm, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, e.ID, StatusCompleted, actorComm, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before the scheduled time, got %v", err)
	}
}

func TestDepartmentUserCancelSoftDeletes(t *testing.T) {
	svc, store, _ := newTestService(t)
	e := mustCreate(t, svc, actorDept, "REF-400")
	ctx := context.Background()

	got, err := svc.UpdateStatus(ctx, e.ID, StatusCancelled, actorDept, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected cancelled payload, got %s", got.Status)
	}

	if _, err := store.GetEngagement(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected soft-deleted engagement to be hidden, got %v", err)
	}
	items, err := svc.List(ctx, actorAdmin)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, item := range items {
		if item.ID == e.ID {
			t.Fatalf("soft-deleted engagement still listed")
		}
	}
}

func TestAdminCancellationNeedsReason(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, actorDept, "REF-401")
	ctx := context.Background()

	if _, err := svc.UpdateStatus(ctx, e.ID, StatusCancelled, actorAdmin, "nope"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for a short reason, got %v", err)
	}

	got, err := svc.UpdateStatus(ctx, e.ID, StatusCancelled, actorSecretariat, "requesting unit withdrew the request")
	if err != nil {
		t.Fatalf("cancel with reason: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}

	// Administrative cancellation keeps the record visible.
	kept, err := svc.Get(ctx, e.ID, actorAdmin)
	if err != nil {
		t.Fatalf("Get after admin cancel: %v", err)
	}
	if kept.Status != StatusCancelled {
		t.Fatalf("expected persisted cancelled status, got %s", kept.Status)
	}
}

func TestSameStatusIsNoop(t *testing.T) {
	svc, _, notifier := newTestService(t)
	e := mustCreate(t, svc, actorDept, "REF-402")
	before := len(notifier.calls)

	got, err := svc.UpdateStatus(context.Background(), e.ID, StatusDraft, actorAdmin, "")
	if err != nil {
		t.Fatalf("no-op transition: %v", err)
	}
	if got.Version != e.Version {
		t.Fatalf("no-op must not write: version %d -> %d", e.Version, got.Version)
	}
	if len(notifier.calls) != before {
		t.Fatalf("no-op must not notify")
	}
}

func TestListVisibility(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mine := mustCreate(t, svc, actorDept, "REF-500")
	theirs := mustCreate(t, svc, actorAdmin, "REF-501")

	items, err := svc.List(ctx, actorDept)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].ID != mine.ID {
		t.Fatalf("department user must only see own requests, got %+v", items)
	}

	items, err = svc.List(ctx, actorComm)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("assigned commissioner must see both, got %d", len(items))
	}

	items, err = svc.List(ctx, actorAdmin)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("oversight must see everything, got %d", len(items))
	}

	if _, err := svc.Get(ctx, theirs.ID, actorDept); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for a foreign engagement, got %v", err)
	}

	// Auditors carry no special visibility: they fall into the
	// creator-scoped default and created nothing here.
	items, err = svc.List(ctx, actorAuditor)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("auditor created nothing and must see nothing, got %d", len(items))
	}
	if _, err := svc.Get(ctx, theirs.ID, actorAuditor); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for auditor get, got %v", err)
	}
	desc := "auditors cannot write this"
	if _, err := svc.UpdateFields(ctx, theirs.ID, Patch{Description: &desc}, actorAuditor); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for auditor edit, got %v", err)
	}
}

func TestCommissionerPatchIsTimeScoped(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreateSlot(t, svc, commissionerID,
		time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 3, 17, 0, 0, 0, time.UTC))
	e := mustCreate(t, svc, actorDept, "REF-600")
	ctx := context.Background()

	newPurpose := "Hijacked purpose text"
	newDate := "2024-06-03"
	newTime := "14:00"
	got, err := svc.UpdateFields(ctx, e.ID, Patch{
		Purpose: &newPurpose,
		Date:    &newDate,
		Time:    &newTime,
	}, actorComm)
	if err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if got.Purpose != e.Purpose {
		t.Fatalf("purpose change must be dropped for commissioners, got %q", got.Purpose)
	}
	if got.Date != newDate || got.Time != newTime {
		t.Fatalf("date/time change not applied: %s %s", got.Date, got.Time)
	}

	if _, err := svc.UpdateFields(ctx, e.ID, Patch{Date: &newDate}, actorOtherComm); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-assigned commissioner, got %v", err)
	}
}

func TestUpdateFieldsAvailabilityGate(t *testing.T) {
	svc, _, _ := newTestService(t)
	start, end := slotWindow()
	mustCreateSlot(t, svc, commissionerID, start, end)
	e := mustCreate(t, svc, actorDept, "REF-601")

	badTime := "18:00"
	if _, err := svc.UpdateFields(context.Background(), e.ID, Patch{Time: &badTime}, actorAdmin); !errors.Is(err, ErrSchedulingConflict) {
		t.Fatalf("expected ErrSchedulingConflict, got %v", err)
	}
}

func TestDepartmentUserEditsDraftsOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	start, end := slotWindow()
	mustCreateSlot(t, svc, commissionerID, start, end)
	e := mustCreate(t, svc, actorDept, "REF-602")
	ctx := context.Background()

	desc := "Updated description for the request"
	if _, err := svc.UpdateFields(ctx, e.ID, Patch{Description: &desc}, actorDept); err != nil {
		t.Fatalf("draft edit: %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, e.ID, StatusScheduled, actorDept, ""); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := svc.UpdateFields(ctx, e.ID, Patch{Description: &desc}, actorDept); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden after leaving draft, got %v", err)
	}
}

func TestSlotPermissions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	start, end := slotWindow()

	// A commissioner may not create slots for someone else.
	if _, err := svc.CreateSlot(ctx, SlotInput{CommissionerID: otherCommID, StartTime: start, EndTime: end}, actorComm); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.CreateSlot(ctx, SlotInput{CommissionerID: commissionerID, StartTime: start, EndTime: end}, actorDept); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for department user, got %v", err)
	}

	slot, err := svc.CreateSlot(ctx, SlotInput{CommissionerID: commissionerID, StartTime: start, EndTime: end}, actorComm)
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	// Slot edits are owner-only; oversight is deliberately excluded.
	newEnd := end.Add(30 * time.Minute)
	if _, err := svc.UpdateSlot(ctx, slot.ID, SlotPatch{EndTime: &newEnd}, actorAdmin); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for admin slot edit, got %v", err)
	}
	if _, err := svc.UpdateSlot(ctx, slot.ID, SlotPatch{EndTime: &newEnd}, actorComm); err != nil {
		t.Fatalf("owner slot edit: %v", err)
	}

	if err := svc.DeleteSlot(ctx, slot.ID, actorAdmin); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for admin slot delete, got %v", err)
	}
	if err := svc.DeleteSlot(ctx, slot.ID, actorComm); err != nil {
		t.Fatalf("owner slot delete: %v", err)
	}
}

func TestSlotOverlapRules(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	start, end := slotWindow()
	mustCreateSlot(t, svc, commissionerID, start, end)

	// Overlapping interval is rejected.
	if _, err := svc.CreateSlot(ctx, SlotInput{
		CommissionerID: commissionerID,
		StartTime:      start.Add(30 * time.Minute),
		EndTime:        end.Add(30 * time.Minute),
	}, actorAdmin); !errors.Is(err, ErrSchedulingConflict) {
		t.Fatalf("expected ErrSchedulingConflict, got %v", err)
	}

	// Touching boundary is fine; a different commissioner is unaffected.
	if _, err := svc.CreateSlot(ctx, SlotInput{
		CommissionerID: commissionerID,
		StartTime:      end,
		EndTime:        end.Add(time.Hour),
	}, actorAdmin); err != nil {
		t.Fatalf("adjoining slot: %v", err)
	}
	if _, err := svc.CreateSlot(ctx, SlotInput{
		CommissionerID: otherCommID,
		StartTime:      start,
		EndTime:        end,
	}, actorAdmin); err != nil {
		t.Fatalf("other commissioner slot: %v", err)
	}

	// Invalid intervals are validation errors.
	if _, err := svc.CreateSlot(ctx, SlotInput{
		CommissionerID: otherCommID,
		StartTime:      end,
		EndTime:        start,
	}, actorAdmin); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for inverted interval, got %v", err)
	}
}

func TestListSlotsDefaultsToSelf(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	start, end := slotWindow()
	mustCreateSlot(t, svc, commissionerID, start, end)
	mustCreateSlot(t, svc, otherCommID, start, end)

	slots, err := svc.ListSlots(ctx, "", actorComm)
	if err != nil {
		t.Fatalf("ListSlots: %v", err)
	}
	if len(slots) != 1 || slots[0].CommissionerID != commissionerID {
		t.Fatalf("expected own slots only, got %+v", slots)
	}

	slots, err = svc.ListSlots(ctx, "", actorAdmin)
	if err != nil {
		t.Fatalf("ListSlots: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected all slots for admin, got %d", len(slots))
	}
}

func TestNotifierFailureDoesNotFailMutation(t *testing.T) {
	svc, _, notifier := newTestService(t)
	notifier.fail = errors.New("smtp down")

	e := mustCreate(t, svc, actorDept, "REF-700")
	if e.ID == "" {
		t.Fatalf("expected engagement despite notifier failure")
	}
	if _, err := svc.UpdateStatus(context.Background(), e.ID, StatusCancelled, actorDept, ""); err != nil {
		t.Fatalf("cancel with failing notifier: %v", err)
	}
}
