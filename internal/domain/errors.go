package domain

import (
	"fmt"

	apperrors "github.com/utafrali/projectflow/pkg/errors"
)

// Authentication failure reasons. They all map to 401 on the wire with a
// generic message; the distinction is kept for logs, metrics and tests.
var (
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", apperrors.ErrUnauthorized)
	ErrInvalidToken       = fmt.Errorf("invalid refresh token: %w", apperrors.ErrUnauthorized)
	ErrTokenExpired       = fmt.Errorf("refresh token expired: %w", apperrors.ErrUnauthorized)
)

// ErrStoreUnavailable marks a failure of the persistence collaborator. It is
// surfaced as 503 and never reinterpreted as an authentication failure.
var ErrStoreUnavailable = fmt.Errorf("token store unavailable: %w", apperrors.ErrServiceUnavail)

// Generic messages written to clients.
const (
	MsgInvalidCredentials = "invalid credentials"
	MsgInvalidToken       = "invalid or expired refresh token"
)
