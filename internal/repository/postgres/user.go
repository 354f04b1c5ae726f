package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/utafrali/projectflow/internal/domain"
	"github.com/utafrali/projectflow/pkg/database"
	apperrors "github.com/utafrali/projectflow/pkg/errors"
)

const userColumns = `id, email, password_hash, is_active, created_at, updated_at`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(ctx, "GetUserByID", query, id)
}

// GetByEmail retrieves a user by email. The lookup is case-insensitive.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = $1`
	return r.scanUser(ctx, "GetUserByEmail", query, domain.NormalizeEmail(email))
}

func (r *UserRepository) scanUser(ctx context.Context, op, query string, arg string) (u *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	u = &domain.User{}
	err = r.db.QueryRow(ctx, query, arg).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

const upsertUserSQL = `
	INSERT INTO users (id, email, password_hash, is_active)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT ((lower(email))) DO UPDATE
	SET password_hash = EXCLUDED.password_hash,
	    is_active     = EXCLUDED.is_active,
	    updated_at    = NOW()
	RETURNING id`

// Upsert creates the account for email or replaces its password hash and
// active flag, returning the account id. It backs operator provisioning;
// the service itself never writes users.
func (r *UserRepository) Upsert(ctx context.Context, email, passwordHash string, active bool) (id string, err error) {
	ctx, end := database.TraceQuery(ctx, "UpsertUser", upsertUserSQL)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, upsertUserSQL, uuid.NewString(), domain.NormalizeEmail(email), passwordHash, active).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert user: %w", err)
	}
	return id, nil
}
