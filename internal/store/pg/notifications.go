package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"kengash.org/internal/notify"
)

var _ notify.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, n *notify.Notification) error {
	var meta []byte
	if len(n.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(n.Metadata)
		if err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into notifications(id, user_id, message, type, metadata, is_read, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, n.ID, n.UserID, n.Message, n.Type, meta, n.IsRead, n.CreatedAt)
	return err
}

func (s *Store) ListForUser(ctx context.Context, userID string, limit int) ([]notify.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, message, type, coalesce(metadata,'{}'), is_read, created_at
		from notifications
		where user_id=$1
		order by created_at desc
		limit $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []notify.Notification
	for rows.Next() {
		var n notify.Notification
		var meta []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Type, &meta, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Metadata); err != nil {
				return nil, err
			}
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (s *Store) MarkRead(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		update notifications set is_read=true where id=$1 and user_id=$2
	`, id, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return notify.ErrNotFound
	}
	return nil
}

func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from notifications where user_id=$1 and is_read=false
	`, userID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}
