package domain

import "time"

// RefreshToken is a persisted refresh token record. Only the SHA-256 digest
// of the token value is stored. RevokedAt is monotonic: once set it is never
// cleared. ReplacedBy is set when the token was consumed by rotation.
type RefreshToken struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	TokenHash  string     `json:"-"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	ReplacedBy *string    `json:"replaced_by,omitempty"`
}

// NewRefreshToken carries the fields needed to persist a freshly issued token.
type NewRefreshToken struct {
	UserID    string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenState is the position of a refresh token in its chain.
type TokenState int

const (
	// TokenActive is the only state from which a refresh succeeds.
	TokenActive TokenState = iota
	// TokenRotated tokens were exchanged for a successor. Presenting one again is reuse.
	TokenRotated
	// TokenRevoked tokens were revoked by logout or by a reuse response.
	TokenRevoked
	// TokenExpired tokens were never revoked but are past their expiry.
	TokenExpired
)

func (s TokenState) String() string {
	switch s {
	case TokenActive:
		return "active"
	case TokenRotated:
		return "rotated"
	case TokenRevoked:
		return "revoked"
	case TokenExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// State classifies the token at instant now. Revocation takes precedence
// over expiry, and a token is expired from the instant now reaches ExpiresAt.
func (t *RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.RevokedAt != nil && t.ReplacedBy != nil:
		return TokenRotated
	case t.RevokedAt != nil:
		return TokenRevoked
	case !now.Before(t.ExpiresAt):
		return TokenExpired
	default:
		return TokenActive
	}
}
