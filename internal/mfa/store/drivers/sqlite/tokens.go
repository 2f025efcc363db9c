package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
)

type tokensRepo struct {
	db *sql.DB
}

func (r *tokensRepo) SaveToken(ctx context.Context, environmentID string, token domain.AccessToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_tokens (environment_id, token_value, issued_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (environment_id) DO UPDATE SET
			token_value = excluded.token_value,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at`,
		environmentID, token.Value, token.IssuedAt.Unix(), token.ExpiresAt.Unix(),
	)
	return err
}

func (r *tokensRepo) GetToken(ctx context.Context, environmentID string) (domain.AccessToken, error) {
	var (
		token     domain.AccessToken
		issuedAt  int64
		expiresAt int64
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT token_value, issued_at, expires_at
		FROM access_tokens WHERE environment_id = ?`, environmentID).
		Scan(&token.Value, &issuedAt, &expiresAt)
	if err != nil {
		return domain.AccessToken{}, mapNotFound(err)
	}

	token.IssuedAt = time.Unix(issuedAt, 0).UTC()
	token.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return token, nil
}

func (r *tokensRepo) DeleteToken(ctx context.Context, environmentID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE environment_id = ?`, environmentID)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return mapNotFound(sql.ErrNoRows)
	}
	return nil
}
