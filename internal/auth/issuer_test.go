package auth

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-that-is-at-least-32-bytes-long")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestIssuer(t *testing.T, opts ...Option) *Issuer {
	t.Helper()
	i, err := NewIssuer(Config{
		Secret:     testSecret,
		Issuer:     "projectflow-auth",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, opts...)
	require.NoError(t, err)
	return i
}

// --- construction ---

func TestNewIssuer_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"short secret", Config{Secret: []byte("short"), AccessTTL: time.Minute, RefreshTTL: time.Hour}},
		{"zero access ttl", Config{Secret: testSecret, RefreshTTL: time.Hour}},
		{"refresh shorter than access", Config{Secret: testSecret, AccessTTL: time.Hour, RefreshTTL: time.Minute}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIssuer(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewIssuer_CopiesSecret(t *testing.T) {
	secret := append([]byte(nil), testSecret...)
	i, err := NewIssuer(Config{Secret: secret, AccessTTL: time.Minute, RefreshTTL: time.Hour})
	require.NoError(t, err)

	issued, err := i.Issue("user-1")
	require.NoError(t, err)

	secret[0] ^= 0xff
	_, err = i.ValidateAccessToken(issued.AccessToken)
	assert.NoError(t, err)
}

// --- Issue ---

func TestIssue_AccessTokenClaims(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	i := newTestIssuer(t, WithClock(fixedClock(now)))

	issued, err := i.Issue("user-1")
	require.NoError(t, err)

	assert.Equal(t, int64(900), issued.ExpiresIn)
	assert.Equal(t, now.Add(15*time.Minute), issued.AccessExpiresAt)
	assert.Equal(t, now.Add(7*24*time.Hour), issued.RefreshExpiresAt)

	claims, err := i.ValidateAccessToken(issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "projectflow-auth", claims.Issuer)
	assert.Equal(t, issued.AccessTokenID, claims.ID)
	assert.Equal(t, now, claims.IssuedAt.Time.UTC())
}

func TestIssue_RefreshTokenIsOpaqueAndRandom(t *testing.T) {
	i := newTestIssuer(t)

	seen := make(map[string]struct{})
	for n := 0; n < 50; n++ {
		issued, err := i.Issue("user-1")
		require.NoError(t, err)

		assert.Len(t, issued.RefreshToken, RefreshTokenLength)
		assert.True(t, WellFormedRefreshToken(issued.RefreshToken))
		assert.NotContains(t, issued.AccessToken, issued.RefreshToken)

		_, dup := seen[issued.RefreshToken]
		assert.False(t, dup, "refresh token repeated")
		seen[issued.RefreshToken] = struct{}{}
	}
}

func TestIssue_EmptyUserID(t *testing.T) {
	_, err := newTestIssuer(t).Issue("")
	assert.Error(t, err)
}

func TestIssue_RandomSourceFailure(t *testing.T) {
	i := newTestIssuer(t, WithRandom(bytes.NewReader([]byte("too short"))))
	_, err := i.Issue("user-1")
	assert.Error(t, err)
}

// --- ValidateAccessToken ---

func TestValidateAccessToken_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	i := newTestIssuer(t, WithClock(func() time.Time { return clock }))

	issued, err := i.Issue("user-1")
	require.NoError(t, err)

	clock = now.Add(16 * time.Minute)
	_, err = i.ValidateAccessToken(issued.AccessToken)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestValidateAccessToken_WrongSecret(t *testing.T) {
	issued, err := newTestIssuer(t).Issue("user-1")
	require.NoError(t, err)

	other, err := NewIssuer(Config{
		Secret:     []byte(strings.Repeat("x", 40)),
		Issuer:     "projectflow-auth",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	})
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(issued.AccessToken)
	assert.Error(t, err)
}

func TestValidateAccessToken_RejectsOtherAlgorithms(t *testing.T) {
	i := newTestIssuer(t)
	claims := &Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "projectflow-auth",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = i.ValidateAccessToken(none)
	assert.Error(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
	require.NoError(t, err)
	_, err = i.ValidateAccessToken(hs512)
	assert.Error(t, err)
}

func TestValidateAccessToken_WrongIssuer(t *testing.T) {
	claims := &Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = newTestIssuer(t).ValidateAccessToken(signed)
	assert.Error(t, err)
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	_, err := newTestIssuer(t).ValidateAccessToken("not.a.jwt")
	assert.Error(t, err)
}

// --- refresh token helpers ---

func TestNewRefreshTokenValue_Deterministic(t *testing.T) {
	v, err := NewRefreshTokenValue(bytes.NewReader(make([]byte, 32)))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("A", RefreshTokenLength), v)
}

func TestWellFormedRefreshToken(t *testing.T) {
	assert.False(t, WellFormedRefreshToken(""))
	assert.False(t, WellFormedRefreshToken(strings.Repeat("A", RefreshTokenLength-1)))
	assert.False(t, WellFormedRefreshToken(strings.Repeat("+", RefreshTokenLength)))
	assert.True(t, WellFormedRefreshToken(strings.Repeat("_", RefreshTokenLength)))
}

func TestHashRefreshToken(t *testing.T) {
	h := HashRefreshToken("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h)
	assert.NotEqual(t, h, HashRefreshToken("abd"))
}
