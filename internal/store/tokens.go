package store

import (
	"context"
	"fmt"
	"time"
)

// RevokeToken records that the credential with id jti must be refused until
// expiresAt. Revoking twice keeps the first expiry.
func RevokeToken(ctx context.Context, q Querier, jti string, expiresAt time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO revoked_tokens (jti, expires_at) VALUES (?, ?)`,
		jti, toDB(expiresAt),
	)
	if err != nil {
		return fmt.Errorf("revoking token %s: %w", jti, err)
	}
	return nil
}

// IsTokenRevoked reports whether jti has an unexpired revocation at now.
func IsTokenRevoked(ctx context.Context, q Querier, jti string, now time.Time) (bool, error) {
	var revoked bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = ? AND expires_at >= ?)`,
		jti, toDB(now),
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("checking token revocation: %w", err)
	}
	return revoked, nil
}

// PruneRevokedTokens deletes revocations that expired before now. Once a
// token has expired the signature check rejects it on its own.
func PruneRevokedTokens(ctx context.Context, q Querier, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < ?`, toDB(now),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning revoked tokens: %w", err)
	}
	return res.RowsAffected()
}
