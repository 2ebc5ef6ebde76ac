package user

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// CreateRefreshToken stores the record for a newly issued refresh token
// identified by jti.
func (s *Store) CreateRefreshToken(ctx context.Context, jti, userID string, expiresAt time.Time) (*RefreshToken, error) {
	t := &RefreshToken{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO refresh_tokens (token_hash, user_id, expires_at)
		 VALUES ($1, $2, $3)
		 RETURNING token_hash, user_id, created_at, expires_at, revoked_at`,
		HashToken(jti), userID, expiresAt,
	).Scan(&t.TokenHash, &t.UserID, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt)
	if err != nil {
		return nil, classify("creating refresh token", err)
	}
	return t, nil
}

// GetRefreshToken looks up the record for jti, including revoked and
// expired ones.
func (s *Store) GetRefreshToken(ctx context.Context, jti string) (*RefreshToken, error) {
	t := &RefreshToken{}
	err := s.pool.QueryRow(ctx,
		`SELECT token_hash, user_id, created_at, expires_at, revoked_at
		 FROM refresh_tokens WHERE token_hash = $1`,
		HashToken(jti),
	).Scan(&t.TokenHash, &t.UserID, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt)
	if err != nil {
		return nil, classify("getting refresh token", err)
	}
	return t, nil
}

// RevokeRefreshToken marks the record for jti revoked. Revoking an unknown
// or already-revoked token is not an error.
func (s *Store) RevokeRefreshToken(ctx context.Context, jti string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = now()
		 WHERE token_hash = $1 AND revoked_at IS NULL`,
		HashToken(jti),
	)
	if err != nil {
		return classify("revoking refresh token", err)
	}
	return nil
}

// RevokeAllRefreshTokens revokes every live refresh token of userID.
func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = now()
		 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID,
	)
	if err != nil {
		return 0, classify("revoking refresh tokens", err)
	}
	return tag.RowsAffected(), nil
}

// CleanExpiredRefreshTokens deletes every refresh token record that has
// expired.
func (s *Store) CleanExpiredRefreshTokens(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < now()`)
	if err != nil {
		return 0, classify("cleaning expired refresh tokens", err)
	}
	return tag.RowsAffected(), nil
}

// HashToken returns the hex sha256 of a token identifier as stored.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
