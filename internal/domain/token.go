package domain

import "time"

// TokenTypeBearer is the token_type reported to clients.
const TokenTypeBearer = "Bearer"

// IssuedTokens is what the token issuer mints for one user: a signed access
// token and the plaintext of a new refresh token.
type IssuedTokens struct {
	AccessToken      string
	AccessTokenID    string
	RefreshToken     string
	ExpiresIn        int64
	IssuedAt         time.Time
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenPair is returned to clients on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Pair converts issued tokens into the client-facing shape.
func (t *IssuedTokens) Pair() *TokenPair {
	return &TokenPair{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    t.ExpiresIn,
	}
}
