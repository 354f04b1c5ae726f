package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/projectflow/internal/domain"
	"github.com/utafrali/projectflow/pkg/database"
	apperrors "github.com/utafrali/projectflow/pkg/errors"
)

const refreshTokenColumns = `id, user_id, token_hash, issued_at, expires_at, revoked_at, replaced_by`

const (
	insertRefreshTokenSQL = `
		INSERT INTO refresh_tokens (id, user_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`

	findRefreshTokenSQL = `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`

	revokeRefreshTokenSQL = `
		UPDATE refresh_tokens
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1`

	// consumeRefreshTokenSQL only matches a token that is still active at $2.
	// Under concurrent rotation the row lock makes the loser re-evaluate the
	// predicate and match nothing.
	consumeRefreshTokenSQL = `
		UPDATE refresh_tokens
		SET revoked_at = $2, replaced_by = $3
		WHERE id = $1 AND revoked_at IS NULL AND expires_at > $2`

	revokeUserRefreshTokensSQL = `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL`

	countActiveRefreshTokensSQL = `
		SELECT count(*) FROM refresh_tokens
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2`
)

// RefreshTokenRepository implements repository.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	db database.DBTX
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(db database.DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Insert stores a new refresh token and returns its generated id.
func (r *RefreshTokenRepository) Insert(ctx context.Context, t domain.NewRefreshToken) (id string, err error) {
	ctx, end := database.TraceQuery(ctx, "InsertRefreshToken", insertRefreshTokenSQL)
	defer func() { end(err) }()

	id = uuid.NewString()
	if err = insertRefreshToken(ctx, r.db, id, t); err != nil {
		return "", err
	}
	return id, nil
}

// FindByHash returns the token stored under tokenHash regardless of state.
func (r *RefreshTokenRepository) FindByHash(ctx context.Context, tokenHash string) (t *domain.RefreshToken, err error) {
	ctx, end := database.TraceQuery(ctx, "FindRefreshToken", findRefreshTokenSQL)
	defer func() { end(err) }()

	t = &domain.RefreshToken{}
	err = r.db.QueryRow(ctx, findRefreshTokenSQL, tokenHash).Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&t.IssuedAt,
		&t.ExpiresAt,
		&t.RevokedAt,
		&t.ReplacedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("refresh token: %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return t, nil
}

// Revoke marks the token revoked at the given instant. An earlier
// revocation time is preserved.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string, at time.Time) (err error) {
	ctx, end := database.TraceQuery(ctx, "RevokeRefreshToken", revokeRefreshTokenSQL)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, revokeRefreshTokenSQL, id, at)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("refresh token", id)
	}
	return nil
}

// Rotate consumes the predecessor and inserts its successor in one
// transaction.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, predecessorID string, successor domain.NewRefreshToken, at time.Time) (id string, err error) {
	ctx, end := database.TraceQuery(ctx, "RotateRefreshToken", consumeRefreshTokenSQL)
	defer func() { end(err) }()

	id = uuid.NewString()
	err = database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, consumeRefreshTokenSQL, predecessorID, at, id)
		if err != nil {
			return fmt.Errorf("consume refresh token: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.ErrConflict
		}
		return insertRefreshToken(ctx, tx, id, successor)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// RevokeAllForUser revokes every unrevoked token of the user.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (n int64, err error) {
	ctx, end := database.TraceQuery(ctx, "RevokeUserRefreshTokens", revokeUserRefreshTokensSQL)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, revokeUserRefreshTokensSQL, userID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountActiveForUser counts the user's tokens that are unrevoked and
// unexpired at the given instant.
func (r *RefreshTokenRepository) CountActiveForUser(ctx context.Context, userID string, at time.Time) (n int, err error) {
	ctx, end := database.TraceQuery(ctx, "CountActiveRefreshTokens", countActiveRefreshTokensSQL)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, countActiveRefreshTokensSQL, userID, at).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active refresh tokens: %w", err)
	}
	return n, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRefreshToken(ctx context.Context, db execer, id string, t domain.NewRefreshToken) error {
	_, err := db.Exec(ctx, insertRefreshTokenSQL, id, t.UserID, t.TokenHash, t.IssuedAt, t.ExpiresAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("insert refresh token: %w", apperrors.ErrAlreadyExists)
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}
