package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kengash.org/internal/engagement"
)

// Store implements engagement.Store and notify.Store on PostgreSQL. Writes
// use a conditional version-checked update so two concurrent transitions can
// never both pass validation against stale state.
type Store struct {
	db *sql.DB
}

var _ engagement.Store = (*Store)(nil)

// Open connects with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool. Test use.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const engagementColumns = `id, reference_no, purpose, coalesce(description,''),
	to_char(date,'YYYY-MM-DD'), time, status, commissioner_id,
	coalesce(created_by::text,''), coalesce(requesting_unit_id::text,''),
	version, created_at, updated_at`

func scanEngagement(row interface{ Scan(...any) error }) (engagement.Engagement, error) {
	var e engagement.Engagement
	err := row.Scan(&e.ID, &e.ReferenceNo, &e.Purpose, &e.Description,
		&e.Date, &e.Time, &e.Status, &e.CommissionerID,
		&e.CreatedBy, &e.RequestingUnitID,
		&e.Version, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (s *Store) CreateEngagement(ctx context.Context, e *engagement.Engagement) error {
	_, err := s.db.ExecContext(ctx, `
		insert into engagements(
			id, reference_no, purpose, description, date, time, status,
			commissioner_id, created_by, requesting_unit_id, version,
			created_at, updated_at)
		values ($1,$2,$3,nullif($4,''),$5::date,$6,$7,$8,
			nullif($9,'')::uuid, nullif($10,'')::uuid, $11, $12, $13)
	`, e.ID, e.ReferenceNo, e.Purpose, e.Description, e.Date, e.Time, e.Status,
		e.CommissionerID, e.CreatedBy, e.RequestingUnitID, e.Version,
		e.CreatedAt, e.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: reference number %q already exists", engagement.ErrValidation, e.ReferenceNo)
	}
	return err
}

func (s *Store) GetEngagement(ctx context.Context, id string) (engagement.Engagement, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+engagementColumns+`
		from engagements where id=$1 and deleted_at is null
	`, id)
	e, err := scanEngagement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engagement.Engagement{}, engagement.ErrNotFound
	}
	return e, err
}

func (s *Store) ListEngagements(ctx context.Context, f engagement.ListFilter) ([]engagement.Engagement, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+engagementColumns+`
		from engagements
		where deleted_at is null
		  and ($1 = '' or commissioner_id = $1::uuid)
		  and ($2 = '' or created_by = $2::uuid)
		order by created_at desc
	`, f.CommissionerID, f.CreatedBy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []engagement.Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *Store) UpdateEngagement(ctx context.Context, e engagement.Engagement, expectedVersion int64) (engagement.Engagement, error) {
	row := s.db.QueryRowContext(ctx, `
		update engagements set
			reference_no=$3, purpose=$4, description=nullif($5,''),
			date=$6::date, time=$7, status=$8, commissioner_id=$9,
			requesting_unit_id=nullif($10,'')::uuid,
			version=version+1, updated_at=now()
		where id=$1 and version=$2 and deleted_at is null
		returning `+engagementColumns+`
	`, e.ID, expectedVersion, e.ReferenceNo, e.Purpose, e.Description,
		e.Date, e.Time, e.Status, e.CommissionerID, e.RequestingUnitID)
	updated, err := scanEngagement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engagement.Engagement{}, s.classifyMissedWrite(ctx, e.ID)
	}
	if isUniqueViolation(err) {
		return engagement.Engagement{}, fmt.Errorf("%w: reference number %q already exists", engagement.ErrValidation, e.ReferenceNo)
	}
	return updated, err
}

func (s *Store) SoftDeleteEngagement(ctx context.Context, id string, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx, `
		update engagements set deleted_at=now(), version=version+1, updated_at=now()
		where id=$1 and version=$2 and deleted_at is null
	`, id, expectedVersion)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return s.classifyMissedWrite(ctx, id)
	}
	return nil
}

// classifyMissedWrite distinguishes a stale version token from a missing or
// soft-deleted row after a conditional update touched nothing.
func (s *Store) classifyMissedWrite(ctx context.Context, id string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from engagements where id=$1 and deleted_at is null)
	`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return engagement.ErrVersionConflict
	}
	return engagement.ErrNotFound
}

func (s *Store) CreateSlot(ctx context.Context, slot *engagement.AvailabilitySlot) error {
	_, err := s.db.ExecContext(ctx, `
		insert into availability_slots(id, commissioner_id, start_time, end_time, created_at)
		values ($1,$2,$3,$4,$5)
	`, slot.ID, slot.CommissionerID, slot.StartTime, slot.EndTime, slot.CreatedAt)
	return err
}

func (s *Store) GetSlot(ctx context.Context, id string) (engagement.AvailabilitySlot, error) {
	var slot engagement.AvailabilitySlot
	err := s.db.QueryRowContext(ctx, `
		select id, commissioner_id, start_time, end_time, created_at
		from availability_slots where id=$1
	`, id).Scan(&slot.ID, &slot.CommissionerID, &slot.StartTime, &slot.EndTime, &slot.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return engagement.AvailabilitySlot{}, engagement.ErrNotFound
	}
	return slot, err
}

func (s *Store) ListSlots(ctx context.Context, commissionerID string) ([]engagement.AvailabilitySlot, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, commissioner_id, start_time, end_time, created_at
		from availability_slots
		where ($1 = '' or commissioner_id = $1::uuid)
		order by start_time asc
	`, commissionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []engagement.AvailabilitySlot
	for rows.Next() {
		var slot engagement.AvailabilitySlot
		if err := rows.Scan(&slot.ID, &slot.CommissionerID, &slot.StartTime, &slot.EndTime, &slot.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, slot)
	}
	return res, rows.Err()
}

func (s *Store) UpdateSlot(ctx context.Context, slot engagement.AvailabilitySlot) error {
	res, err := s.db.ExecContext(ctx, `
		update availability_slots set start_time=$2, end_time=$3 where id=$1
	`, slot.ID, slot.StartTime, slot.EndTime)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return engagement.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSlot(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from availability_slots where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return engagement.ErrNotFound
	}
	return nil
}

func (s *Store) FindOverlap(ctx context.Context, commissionerID string, start, end time.Time, excludeID string) (engagement.AvailabilitySlot, bool, error) {
	// Strict inequalities: adjoining slots do not conflict.
	var slot engagement.AvailabilitySlot
	err := s.db.QueryRowContext(ctx, `
		select id, commissioner_id, start_time, end_time, created_at
		from availability_slots
		where commissioner_id=$1 and start_time < $3 and end_time > $2
		  and ($4 = '' or id <> $4::uuid)
		limit 1
	`, commissionerID, start, end, excludeID).
		Scan(&slot.ID, &slot.CommissionerID, &slot.StartTime, &slot.EndTime, &slot.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return engagement.AvailabilitySlot{}, false, nil
	}
	if err != nil {
		return engagement.AvailabilitySlot{}, false, err
	}
	return slot, true, nil
}

func (s *Store) IsAvailable(ctx context.Context, commissionerID string, at time.Time) (bool, error) {
	// Closed interval containment, unlike the strict overlap predicate.
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from availability_slots
			where commissioner_id=$1 and start_time <= $2 and end_time >= $2)
	`, commissionerID, at).Scan(&ok)
	return ok, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
