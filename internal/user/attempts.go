package user

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendLoginAttempt records one authentication attempt. Attempts are never
// updated after insertion.
func (s *Store) AppendLoginAttempt(ctx context.Context, a LoginAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO login_attempts (id, login_id, success, ip, attempted_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, NormalizeLoginID(a.LoginID), a.Success, a.IP, a.AttemptedAt,
	)
	if err != nil {
		return classify("appending login attempt", err)
	}
	return nil
}

// ListRecentLoginAttempts returns the attempts for loginID at or after
// since, newest first.
func (s *Store) ListRecentLoginAttempts(ctx context.Context, loginID string, since time.Time) ([]LoginAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, login_id, success, ip, attempted_at FROM login_attempts
		 WHERE login_id = $1 AND attempted_at >= $2
		 ORDER BY attempted_at DESC, id`,
		NormalizeLoginID(loginID), since,
	)
	if err != nil {
		return nil, classify("listing login attempts", err)
	}
	defer rows.Close()

	var attempts []LoginAttempt
	for rows.Next() {
		var a LoginAttempt
		if err := rows.Scan(&a.ID, &a.LoginID, &a.Success, &a.IP, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scanning login attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// PurgeLoginAttempts deletes attempts older than before and returns how many
// were removed.
func (s *Store) PurgeLoginAttempts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, before)
	if err != nil {
		return 0, classify("purging login attempts", err)
	}
	return tag.RowsAffected(), nil
}
