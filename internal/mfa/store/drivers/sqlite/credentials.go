package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
	"github.com/curtismu7/mfa-console/pkg/cryptox"
)

type credentialsRepo struct {
	db *sql.DB
}

func (r *credentialsRepo) SaveCredential(ctx context.Context, cred domain.WorkerCredential) error {
	secretEnc, err := cryptox.EncryptSecret(cred.Secret)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}

	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	// Replacement and stale-token invalidation happen in one transaction
	// so readers never see the new credential with the old token.
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO worker_credentials
			(environment_id, client_id, secret_enc, key_id, auth_method, scopes, region, custom_domain, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (environment_id) DO UPDATE SET
			client_id = excluded.client_id,
			secret_enc = excluded.secret_enc,
			key_id = excluded.key_id,
			auth_method = excluded.auth_method,
			scopes = excluded.scopes,
			region = excluded.region,
			custom_domain = excluded.custom_domain,
			updated_at = excluded.updated_at`,
		cred.EnvironmentID, cred.ClientID, secretEnc, cred.KeyID,
		string(cred.AuthMethod), strings.Join(cred.Scopes, " "),
		cred.Region, cred.CustomDomain, updatedAt.Unix(),
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE environment_id = ?`, cred.EnvironmentID); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *credentialsRepo) GetCredential(ctx context.Context, environmentID string) (domain.WorkerCredential, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT environment_id, client_id, secret_enc, key_id, auth_method, scopes, region, custom_domain, updated_at
		FROM worker_credentials WHERE environment_id = ?`, environmentID)

	return scanCredential(row)
}

func (r *credentialsRepo) ListCredentials(ctx context.Context) ([]domain.WorkerCredential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT environment_id, client_id, secret_enc, key_id, auth_method, scopes, region, custom_domain, updated_at
		FROM worker_credentials ORDER BY updated_at DESC, environment_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WorkerCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func (r *credentialsRepo) DeleteCredential(ctx context.Context, environmentID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM worker_credentials WHERE environment_id = ?`, environmentID)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (domain.WorkerCredential, error) {
	var (
		cred       domain.WorkerCredential
		secretEnc  string
		authMethod string
		scopes     string
		updatedAt  int64
	)

	err := row.Scan(&cred.EnvironmentID, &cred.ClientID, &secretEnc, &cred.KeyID,
		&authMethod, &scopes, &cred.Region, &cred.CustomDomain, &updatedAt)
	if err != nil {
		return domain.WorkerCredential{}, mapNotFound(err)
	}

	secret, err := cryptox.DecryptSecret(secretEnc)
	if err != nil {
		return domain.WorkerCredential{}, fmt.Errorf("decrypt secret: %w", err)
	}

	cred.Secret = secret
	cred.AuthMethod = domain.AuthMethod(authMethod)
	cred.Scopes = splitScopes(scopes)
	cred.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return cred, nil
}

func splitScopes(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
