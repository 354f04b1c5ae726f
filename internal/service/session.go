package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/projectflow/internal/auth"
	"github.com/utafrali/projectflow/internal/domain"
	"github.com/utafrali/projectflow/internal/event"
	"github.com/utafrali/projectflow/internal/ratelimit"
	"github.com/utafrali/projectflow/internal/repository"
	apperrors "github.com/utafrali/projectflow/pkg/errors"
	"github.com/utafrali/projectflow/pkg/logger"
)

// maxRefreshTokenLength bounds the presented value before any work is done.
const maxRefreshTokenLength = 512

// Verifier authenticates a user by email and password.
type Verifier interface {
	Verify(ctx context.Context, email, password string) (string, error)
}

// TokenIssuer mints a token pair for a user.
type TokenIssuer interface {
	Issue(userID string) (*domain.IssuedTokens, error)
}

// LoginThrottle limits failed login attempts per account.
type LoginThrottle interface {
	Allow(ctx context.Context, key string) bool
	RecordFailure(ctx context.Context, key string)
	Reset(ctx context.Context, key string)
}

// EventPublisher emits auth domain events.
type EventPublisher interface {
	LoginSucceeded(ctx context.Context, userID string) error
	LoginFailed(ctx context.Context, userID, reason string) error
	TokenReuseDetected(ctx context.Context, userID, tokenID string, revoked int64) error
	LoggedOut(ctx context.Context, userID string, all bool, revoked int64) error
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string
	Password string
}

// SessionOption customises a SessionManager.
type SessionOption func(*SessionManager)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionManager) { s.now = now }
}

// WithSingleSession makes every login revoke the user's existing refresh tokens.
func WithSingleSession(enabled bool) SessionOption {
	return func(s *SessionManager) { s.singleSession = enabled }
}

// WithThrottle sets the login throttle.
func WithThrottle(t LoginThrottle) SessionOption {
	return func(s *SessionManager) { s.throttle = t }
}

// WithEvents sets the auth event publisher.
func WithEvents(p EventPublisher) SessionOption {
	return func(s *SessionManager) { s.events = p }
}

// SessionManager runs login, refresh rotation and logout on top of the
// credential verifier, the token issuer and the refresh token store.
type SessionManager struct {
	verifier      Verifier
	users         repository.UserRepository
	tokens        repository.RefreshTokenRepository
	issuer        TokenIssuer
	throttle      LoginThrottle
	events        EventPublisher
	singleSession bool
	now           func() time.Time
	logger        *slog.Logger
}

// NewSessionManager creates a session manager. Without options it never
// throttles and publishes no events.
func NewSessionManager(
	verifier Verifier,
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	issuer TokenIssuer,
	logger *slog.Logger,
	opts ...SessionOption,
) *SessionManager {
	s := &SessionManager{
		verifier: verifier,
		users:    users,
		tokens:   tokens,
		issuer:   issuer,
		throttle: ratelimit.Nop{},
		events:   event.Nop{},
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies credentials and starts a new refresh token chain.
func (s *SessionManager) Login(ctx context.Context, input LoginInput) (*domain.TokenPair, error) {
	log := logger.WithContext(ctx, s.logger)
	email := domain.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		observe(opLogin, outcomeInvalidCredentials)
		return nil, invalidCredentials()
	}

	if !s.throttle.Allow(ctx, email) {
		observe(opLogin, outcomeThrottled)
		log.WarnContext(ctx, "login throttled")
		return nil, apperrors.TooManyRequests("too many failed login attempts, try again later")
	}

	userID, err := s.verifier.Verify(ctx, email, input.Password)
	if err != nil {
		var credErr *CredentialError
		if errors.As(err, &credErr) {
			s.throttle.RecordFailure(ctx, email)
			observe(opLogin, outcomeInvalidCredentials)
			log.InfoContext(ctx, "login rejected",
				slog.String("reason", credErr.Reason),
				slog.String("user_id", credErr.UserID),
			)
			s.emit(ctx, func(ctx context.Context) error {
				return s.events.LoginFailed(ctx, credErr.UserID, credErr.Reason)
			})
			return nil, invalidCredentials()
		}
		observe(opLogin, outcomeStoreUnavailable)
		return nil, storeUnavailable(err)
	}
	s.throttle.Reset(ctx, email)

	if s.singleSession {
		if _, err := s.tokens.RevokeAllForUser(ctx, userID, s.now()); err != nil {
			observe(opLogin, outcomeStoreUnavailable)
			return nil, storeUnavailable(err)
		}
	}

	issued, err := s.issuer.Issue(userID)
	if err != nil {
		observe(opLogin, outcomeError)
		return nil, apperrors.Internal(fmt.Errorf("issue tokens: %w", err))
	}
	if _, err := s.tokens.Insert(ctx, newRecord(userID, issued)); err != nil {
		observe(opLogin, outcomeStoreUnavailable)
		return nil, storeUnavailable(err)
	}

	observe(opLogin, outcomeSuccess)
	log.InfoContext(ctx, "login succeeded", slog.String("user_id", userID))
	s.emit(ctx, func(ctx context.Context) error { return s.events.LoginSucceeded(ctx, userID) })
	return issued.Pair(), nil
}

// Refresh exchanges an active refresh token for a new pair. The presented
// token is consumed. Presenting an already rotated token is treated as
// theft: every token of its owner is revoked.
func (s *SessionManager) Refresh(ctx context.Context, value string) (*domain.TokenPair, error) {
	log := logger.WithContext(ctx, s.logger)
	if len(value) > maxRefreshTokenLength || !auth.WellFormedRefreshToken(value) {
		observe(opRefresh, outcomeInvalidToken)
		return nil, invalidToken(domain.ErrInvalidToken)
	}

	rec, err := s.tokens.FindByHash(ctx, auth.HashRefreshToken(value))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			observe(opRefresh, outcomeInvalidToken)
			return nil, invalidToken(domain.ErrInvalidToken)
		}
		observe(opRefresh, outcomeStoreUnavailable)
		return nil, storeUnavailable(err)
	}

	now := s.now()
	switch rec.State(now) {
	case domain.TokenRotated:
		revoked, err := s.tokens.RevokeAllForUser(ctx, rec.UserID, now)
		if err != nil {
			observe(opRefresh, outcomeStoreUnavailable)
			return nil, storeUnavailable(err)
		}
		observe(opRefresh, outcomeReuseDetected)
		log.WarnContext(ctx, "refresh token reuse detected, revoked all sessions",
			slog.String("user_id", rec.UserID),
			slog.String("token_id", rec.ID),
			slog.Int64("revoked", revoked),
		)
		s.emit(ctx, func(ctx context.Context) error {
			return s.events.TokenReuseDetected(ctx, rec.UserID, rec.ID, revoked)
		})
		return nil, invalidToken(domain.ErrInvalidToken)

	case domain.TokenRevoked:
		observe(opRefresh, outcomeInvalidToken)
		return nil, invalidToken(domain.ErrInvalidToken)

	case domain.TokenExpired:
		observe(opRefresh, outcomeTokenExpired)
		return nil, invalidToken(domain.ErrTokenExpired)
	}

	user, err := s.users.GetByID(ctx, rec.UserID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound) || (err == nil && !user.IsActive):
		if err := s.tokens.Revoke(ctx, rec.ID, now); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			observe(opRefresh, outcomeStoreUnavailable)
			return nil, storeUnavailable(err)
		}
		observe(opRefresh, outcomeInvalidToken)
		log.InfoContext(ctx, "refresh rejected, owner no longer active", slog.String("user_id", rec.UserID))
		return nil, invalidToken(domain.ErrInvalidToken)
	case err != nil:
		observe(opRefresh, outcomeStoreUnavailable)
		return nil, storeUnavailable(err)
	}

	issued, err := s.issuer.Issue(user.ID)
	if err != nil {
		observe(opRefresh, outcomeError)
		return nil, apperrors.Internal(fmt.Errorf("issue tokens: %w", err))
	}

	if _, err := s.tokens.Rotate(ctx, rec.ID, newRecord(user.ID, issued), now); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			observe(opRefresh, outcomeRaceLost)
			log.InfoContext(ctx, "refresh lost a concurrent rotation", slog.String("token_id", rec.ID))
			return nil, invalidToken(domain.ErrInvalidToken)
		}
		observe(opRefresh, outcomeStoreUnavailable)
		return nil, storeUnavailable(err)
	}

	observe(opRefresh, outcomeSuccess)
	return issued.Pair(), nil
}

// Logout revokes the presented refresh token. Unknown, malformed and
// already revoked tokens are accepted silently.
func (s *SessionManager) Logout(ctx context.Context, value string) error {
	if len(value) > maxRefreshTokenLength || !auth.WellFormedRefreshToken(value) {
		observe(opLogout, outcomeSuccess)
		return nil
	}

	rec, err := s.tokens.FindByHash(ctx, auth.HashRefreshToken(value))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			observe(opLogout, outcomeSuccess)
			return nil
		}
		observe(opLogout, outcomeStoreUnavailable)
		return storeUnavailable(err)
	}

	if err := s.tokens.Revoke(ctx, rec.ID, s.now()); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		observe(opLogout, outcomeStoreUnavailable)
		return storeUnavailable(err)
	}

	observe(opLogout, outcomeSuccess)
	s.emit(ctx, func(ctx context.Context) error { return s.events.LoggedOut(ctx, rec.UserID, false, 0) })
	return nil
}

// LogoutAll revokes every refresh token of userID and returns how many were
// still unrevoked.
func (s *SessionManager) LogoutAll(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, apperrors.Unauthorized("authentication required")
	}

	n, err := s.tokens.RevokeAllForUser(ctx, userID, s.now())
	if err != nil {
		observe(opLogoutAll, outcomeStoreUnavailable)
		return 0, storeUnavailable(err)
	}

	observe(opLogoutAll, outcomeSuccess)
	logger.WithContext(ctx, s.logger).InfoContext(ctx, "logged out of all sessions",
		slog.String("user_id", userID),
		slog.Int64("revoked", n),
	)
	s.emit(ctx, func(ctx context.Context) error { return s.events.LoggedOut(ctx, userID, true, n) })
	return n, nil
}

// ActiveSessions returns how many unrevoked, unexpired refresh tokens
// userID holds. Each login starts one chain and rotation keeps exactly one
// active token per chain, so this is the number of signed-in sessions.
func (s *SessionManager) ActiveSessions(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, apperrors.Unauthorized("authentication required")
	}
	n, err := s.tokens.CountActiveForUser(ctx, userID, s.now())
	if err != nil {
		return 0, storeUnavailable(err)
	}
	return n, nil
}

// emit publishes an event. Failures are logged and never fail the caller.
func (s *SessionManager) emit(ctx context.Context, publish func(context.Context) error) {
	if err := publish(ctx); err != nil {
		logger.WithContext(ctx, s.logger).WarnContext(ctx, "failed to publish auth event",
			slog.String("error", err.Error()),
		)
	}
}

func newRecord(userID string, issued *domain.IssuedTokens) domain.NewRefreshToken {
	return domain.NewRefreshToken{
		UserID:    userID,
		TokenHash: auth.HashRefreshToken(issued.RefreshToken),
		IssuedAt:  issued.IssuedAt,
		ExpiresAt: issued.RefreshExpiresAt,
	}
}

func invalidCredentials() error {
	return apperrors.UnauthorizedCause(domain.MsgInvalidCredentials, domain.ErrInvalidCredentials)
}

func invalidToken(cause error) error {
	return apperrors.UnauthorizedCause(domain.MsgInvalidToken, cause)
}

func storeUnavailable(err error) error {
	return apperrors.ServiceUnavailable(fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err))
}
