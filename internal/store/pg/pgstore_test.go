package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"kengash.org/internal/engagement"
	"kengash.org/internal/notify"
)

var engagementCols = []string{
	"id", "reference_no", "purpose", "description", "date", "time", "status",
	"commissioner_id", "created_by", "requesting_unit_id", "version",
	"created_at", "updated_at",
}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestGetEngagementNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("from engagements where id=").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(engagementCols))

	_, err := store.GetEngagement(context.Background(), "missing")
	if !errors.Is(err, engagement.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetEngagementScansRow(t *testing.T) {
	store, mock := newMock(t)

	now := time.Now().UTC()
	mock.ExpectQuery("from engagements where id=").
		WithArgs("e-1").
		WillReturnRows(sqlmock.NewRows(engagementCols).AddRow(
			"e-1", "REF-001", "Quarterly review", "", "2024-06-01", "10:30",
			"scheduled", "c-1", "u-1", "", int64(3), now, now))

	e, err := store.GetEngagement(context.Background(), "e-1")
	if err != nil {
		t.Fatalf("GetEngagement: %v", err)
	}
	if e.ReferenceNo != "REF-001" || e.Status != engagement.StatusScheduled || e.Version != 3 {
		t.Fatalf("unexpected engagement: %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateEngagementVersionConflict(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("update engagements set").
		WillReturnRows(sqlmock.NewRows(engagementCols))
	mock.ExpectQuery("select exists").
		WithArgs("e-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := store.UpdateEngagement(context.Background(), engagement.Engagement{ID: "e-1"}, 2)
	if !errors.Is(err, engagement.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateEngagementGone(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("update engagements set").
		WillReturnRows(sqlmock.NewRows(engagementCols))
	mock.ExpectQuery("select exists").
		WithArgs("e-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.UpdateEngagement(context.Background(), engagement.Engagement{ID: "e-1"}, 2)
	if !errors.Is(err, engagement.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSoftDeleteEngagement(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("update engagements set deleted_at=now").
		WithArgs("e-1", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SoftDeleteEngagement(context.Background(), "e-1", 1); err != nil {
		t.Fatalf("SoftDeleteEngagement: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIsAvailable(t *testing.T) {
	store, mock := newMock(t)

	at := time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)
	mock.ExpectQuery("select exists").
		WithArgs("c-1", at).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.IsAvailable(context.Background(), "c-1", at)
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if !ok {
		t.Fatalf("expected availability")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindOverlapNone(t *testing.T) {
	store, mock := newMock(t)

	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	mock.ExpectQuery("from availability_slots").
		WithArgs("c-1", start, end, "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "commissioner_id", "start_time", "end_time", "created_at"}))

	_, found, err := store.FindOverlap(context.Background(), "c-1", start, end, "")
	if err != nil {
		t.Fatalf("FindOverlap: %v", err)
	}
	if found {
		t.Fatalf("expected no overlap")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestNotificationMarkReadOwnership(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("update notifications set is_read=true").
		WithArgs("n-1", "stranger").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkRead(context.Background(), "n-1", "stranger")
	if !errors.Is(err, notify.ErrNotFound) {
		t.Fatalf("expected notify.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
