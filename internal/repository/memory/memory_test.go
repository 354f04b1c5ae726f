package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/projectflow/internal/domain"
	"github.com/utafrali/projectflow/internal/repository"
	apperrors "github.com/utafrali/projectflow/pkg/errors"
)

var (
	_ repository.UserRepository         = (*UserStore)(nil)
	_ repository.RefreshTokenRepository = (*RefreshTokenStore)(nil)
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newToken(userID, hash string) domain.NewRefreshToken {
	return domain.NewRefreshToken{UserID: userID, TokenHash: hash, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
}

// ---------------------------------------------------------------------------
// UserStore
// ---------------------------------------------------------------------------

func TestUserStore_GetByEmail_CaseInsensitive(t *testing.T) {
	s := NewUserStore()
	s.Add(domain.User{ID: "u-1", Email: "Alice@Example.com", IsActive: true})

	u, err := s.GetByEmail(context.Background(), " ALICE@example.COM")
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)

	_, err = s.GetByEmail(context.Background(), "bob@example.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUserStore_ReturnsCopies(t *testing.T) {
	s := NewUserStore()
	s.Add(domain.User{ID: "u-1", Email: "a@x.com", IsActive: true})

	u, err := s.GetByID(context.Background(), "u-1")
	require.NoError(t, err)
	u.IsActive = false

	again, err := s.GetByID(context.Background(), "u-1")
	require.NoError(t, err)
	assert.True(t, again.IsActive)
}

func TestUserStore_AddReplacesEmailIndex(t *testing.T) {
	s := NewUserStore()
	s.Add(domain.User{ID: "u-1", Email: "old@x.com"})
	s.Add(domain.User{ID: "u-1", Email: "new@x.com"})

	_, err := s.GetByEmail(context.Background(), "old@x.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.GetByEmail(context.Background(), "new@x.com")
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// RefreshTokenStore
// ---------------------------------------------------------------------------

func TestRefreshTokenStore_InsertAndFind(t *testing.T) {
	s := NewRefreshTokenStore()
	ctx := context.Background()

	id, err := s.Insert(ctx, newToken("u-1", "h1"))
	require.NoError(t, err)

	got, err := s.FindByHash(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, domain.TokenActive, got.State(now))

	_, err = s.Insert(ctx, newToken("u-1", "h1"))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	_, err = s.FindByHash(ctx, "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRefreshTokenStore_RevokeKeepsFirstTimestamp(t *testing.T) {
	s := NewRefreshTokenStore()
	ctx := context.Background()
	id, err := s.Insert(ctx, newToken("u-1", "h1"))
	require.NoError(t, err)

	require.NoError(t, s.Revoke(ctx, id, now))
	require.NoError(t, s.Revoke(ctx, id, now.Add(time.Minute)))

	got, err := s.FindByHash(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	assert.Equal(t, now, *got.RevokedAt)
	assert.Equal(t, domain.TokenRevoked, got.State(now))

	assert.ErrorIs(t, s.Revoke(ctx, "missing", now), apperrors.ErrNotFound)
}

func TestRefreshTokenStore_Rotate(t *testing.T) {
	s := NewRefreshTokenStore()
	ctx := context.Background()
	id, err := s.Insert(ctx, newToken("u-1", "h1"))
	require.NoError(t, err)

	succ, err := s.Rotate(ctx, id, newToken("u-1", "h2"), now)
	require.NoError(t, err)

	pred, err := s.FindByHash(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, domain.TokenRotated, pred.State(now))
	assert.Equal(t, succ, *pred.ReplacedBy)

	_, err = s.Rotate(ctx, id, newToken("u-1", "h3"), now)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	_, err = s.FindByHash(ctx, "h3")
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "losing rotation must not persist a successor")
}

func TestRefreshTokenStore_RotateExpired(t *testing.T) {
	s := NewRefreshTokenStore()
	ctx := context.Background()
	id, err := s.Insert(ctx, newToken("u-1", "h1"))
	require.NoError(t, err)

	_, err = s.Rotate(ctx, id, newToken("u-1", "h2"), now.Add(time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestRefreshTokenStore_ConcurrentRotateHasOneWinner(t *testing.T) {
	s := NewRefreshTokenStore()
	ctx := context.Background()
	id, err := s.Insert(ctx, newToken("u-1", "h0"))
	require.NoError(t, err)

	const racers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Rotate(ctx, id, newToken("u-1", string(rune('a'+i))), now); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	n, err := s.CountActiveForUser(ctx, "u-1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRefreshTokenStore_RevokeAllForUser(t *testing.T) {
	s := NewRefreshTokenStore()
	ctx := context.Background()
	for _, h := range []string{"a", "b", "c"} {
		_, err := s.Insert(ctx, newToken("u-1", h))
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, newToken("u-2", "d"))
	require.NoError(t, err)

	n, err := s.RevokeAllForUser(ctx, "u-1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.RevokeAllForUser(ctx, "u-1", now)
	require.NoError(t, err)
	assert.Zero(t, n)

	active, err := s.CountActiveForUser(ctx, "u-2", now)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}
