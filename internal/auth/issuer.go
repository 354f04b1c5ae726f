package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/utafrali/projectflow/internal/domain"
)

const (
	// refreshTokenBytes is the entropy of a refresh token value (256 bits).
	refreshTokenBytes = 32

	// RefreshTokenLength is the encoded length of a refresh token value.
	RefreshTokenLength = 43

	minSecretLength = 32
)

// Claims are the claims carried by an access token.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Config configures an Issuer. Secret is copied at construction and never
// changes for the lifetime of the Issuer.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Option customises an Issuer.
type Option func(*Issuer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// WithRandom replaces crypto/rand as the source of refresh token bytes.
func WithRandom(r io.Reader) Option {
	return func(i *Issuer) { i.random = r }
}

// Issuer mints HS256 access tokens and opaque refresh tokens. It performs
// no persistence.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	random     io.Reader
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg Config, opts ...Option) (*Issuer, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", minSecretLength)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh token lifetime must exceed access token lifetime")
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	i := &Issuer{
		secret:     secret,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
		random:     rand.Reader,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue mints a new access token and refresh token value for userID.
func (i *Issuer) Issue(userID string) (*domain.IssuedTokens, error) {
	if userID == "" {
		return nil, errors.New("issue tokens: empty user id")
	}

	now := i.now().UTC().Truncate(time.Second)
	accessExp := now.Add(i.accessTTL)
	jti := uuid.NewString()

	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := NewRefreshTokenValue(i.random)
	if err != nil {
		return nil, err
	}

	return &domain.IssuedTokens{
		AccessToken:      access,
		AccessTokenID:    jti,
		RefreshToken:     refresh,
		ExpiresIn:        int64(i.accessTTL / time.Second),
		IssuedAt:         now,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: now.Add(i.refreshTTL),
	}, nil
}

// ValidateAccessToken verifies signature, algorithm, issuer and expiry of an
// access token and returns its claims.
func (i *Issuer) ValidateAccessToken(tokenString string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(i.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid access token claims")
	}
	return claims, nil
}

// NewRefreshTokenValue reads 32 bytes from r and encodes them as unpadded
// base64url. The value is opaque and unrelated to any access token.
func NewRefreshTokenValue(r io.Reader) (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// WellFormedRefreshToken reports whether value could have been produced by
// NewRefreshTokenValue. Malformed values are rejected without a store lookup.
func WellFormedRefreshToken(value string) bool {
	if len(value) != RefreshTokenLength {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(value)
	return err == nil
}

// HashRefreshToken returns the hex SHA-256 digest under which a refresh token is stored.
func HashRefreshToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
