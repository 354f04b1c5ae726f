package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/projectflow/internal/auth"
	"github.com/utafrali/projectflow/internal/domain"
	"github.com/utafrali/projectflow/internal/repository"
	apperrors "github.com/utafrali/projectflow/pkg/errors"
	"github.com/utafrali/projectflow/pkg/logger"
)

// Reasons a credential check failed. They appear in logs, events and
// metrics but never in responses.
const (
	ReasonUnknownEmail    = "unknown_email"
	ReasonWrongPassword   = "wrong_password"
	ReasonInactiveUser    = "inactive_user"
	ReasonUnsupportedHash = "unsupported_hash"
)

// CredentialError is returned by CredentialVerifier.Verify for any rejected
// credential. It unwraps to domain.ErrInvalidCredentials.
type CredentialError struct {
	Reason string
	UserID string
}

func (e *CredentialError) Error() string {
	return "invalid credentials: " + e.Reason
}

func (e *CredentialError) Unwrap() error {
	return domain.ErrInvalidCredentials
}

// CredentialVerifier checks an email and password against stored users.
type CredentialVerifier struct {
	users     repository.UserRepository
	scheme    auth.PasswordScheme
	dummyHash string
	compare   func(stored, password string) (bool, error)
	logger    *slog.Logger
}

// NewCredentialVerifier creates a verifier for users hashed with scheme.
// A dummy hash of the same scheme is compared whenever there is no usable
// stored hash, so unknown emails cost as much as wrong passwords.
func NewCredentialVerifier(users repository.UserRepository, scheme auth.PasswordScheme, logger *slog.Logger) (*CredentialVerifier, error) {
	if err := scheme.Validate(); err != nil {
		return nil, fmt.Errorf("password scheme: %w", err)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("dummy password: %w", err)
	}
	dummy, err := scheme.Hash(base64.RawStdEncoding.EncodeToString(buf))
	if err != nil {
		return nil, err
	}
	return &CredentialVerifier{
		users:     users,
		scheme:    scheme,
		dummyHash: dummy,
		compare:   auth.ComparePassword,
		logger:    logger,
	}, nil
}

// Verify returns the id of the active user identified by email and password.
// Unknown emails, wrong passwords and inactive users all yield a
// *CredentialError. Storage failures are returned wrapped, untouched.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (string, error) {
	user, err := v.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_, _ = v.compare(v.dummyHash, password)
			return "", &CredentialError{Reason: ReasonUnknownEmail}
		}
		return "", fmt.Errorf("look up user: %w", err)
	}

	log := logger.WithContext(ctx, v.logger)
	ok, err := v.compare(user.PasswordHash, password)
	if err != nil {
		// Parsing failed before any hashing; spend the scheme's cost anyway.
		_, _ = v.compare(v.dummyHash, password)
		log.ErrorContext(ctx, "stored password hash is unusable",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return "", &CredentialError{Reason: ReasonUnsupportedHash, UserID: user.ID}
	}
	if !v.scheme.Produced(user.PasswordHash) {
		log.WarnContext(ctx, "stored password hash does not use the configured scheme",
			slog.String("user_id", user.ID),
			slog.String("algorithm", v.scheme.Algorithm),
		)
	}
	if !ok {
		return "", &CredentialError{Reason: ReasonWrongPassword, UserID: user.ID}
	}
	if !user.IsActive {
		return "", &CredentialError{Reason: ReasonInactiveUser, UserID: user.ID}
	}
	return user.ID, nil
}
