package repository

import (
	"context"
	"time"

	"github.com/utafrali/projectflow/internal/domain"
)

// UserRepository is the read-only user lookup the credential verifier and
// session manager depend on. Users are owned by the user-management service.
type UserRepository interface {
	// GetByEmail returns the user whose email matches case-insensitively,
	// or apperrors.ErrNotFound.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByID returns the user with the given id, or apperrors.ErrNotFound.
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// RefreshTokenRepository persists refresh token records. It returns raw rows;
// interpreting validity is left to the caller.
type RefreshTokenRepository interface {
	// Insert stores a new token and returns its surrogate id.
	Insert(ctx context.Context, token domain.NewRefreshToken) (string, error)

	// FindByHash returns the record stored under tokenHash, whatever its
	// state, or apperrors.ErrNotFound.
	FindByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)

	// Revoke sets revoked_at on the token unless it is already set. Revoking
	// twice is not an error. Unknown ids return apperrors.ErrNotFound.
	Revoke(ctx context.Context, id string, at time.Time) error

	// Rotate atomically revokes the predecessor and inserts its successor,
	// linking them through replaced_by. The predecessor must be unrevoked
	// and unexpired at instant at; otherwise nothing is written and
	// apperrors.ErrConflict is returned. Of concurrent rotations of the same
	// predecessor, exactly one succeeds.
	Rotate(ctx context.Context, predecessorID string, successor domain.NewRefreshToken, at time.Time) (string, error)

	// RevokeAllForUser revokes every unrevoked token of the user and returns
	// how many were revoked.
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)

	// CountActiveForUser returns the number of unrevoked, unexpired tokens
	// the user holds at instant at.
	CountActiveForUser(ctx context.Context, userID string, at time.Time) (int, error)
}
