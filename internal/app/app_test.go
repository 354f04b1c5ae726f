package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/projectflow/internal/auth"
	"github.com/utafrali/projectflow/internal/config"
)

func memoryConfig(t *testing.T, devUsers ...string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(map[string]string{
		"STORE_DRIVER":   "memory",
		"REDIS_ENABLED":  "false",
		"AUTH_HTTP_PORT": "18001",
		"BCRYPT_COST":    "4",
		"DEV_USERS":      strings.Join(devUsers, ";"),
	})
	require.NoError(t, err)
	return cfg
}

func TestSeedUsers(t *testing.T) {
	users, err := seedUsers([]string{" Alice@Example.com :$2a$04$hash"})
	require.NoError(t, err)

	u, err := users.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "$2a$04$hash", u.PasswordHash)
	assert.True(t, u.IsActive)
	assert.NotEmpty(t, u.ID)

	_, err = seedUsers([]string{"alice@example.com:"})
	assert.Error(t, err)
}

func TestNewApp_MemoryDriverServesLogin(t *testing.T) {
	hash, err := auth.HashPasswordBcrypt("s3cret-pass", bcrypt.MinCost)
	require.NoError(t, err)

	cfg := memoryConfig(t, "alice@example.com:"+hash)

	a, err := NewApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.closeResources() })

	assert.Nil(t, a.pool)
	assert.Nil(t, a.redis)
	assert.Nil(t, a.producer)
	assert.Equal(t, ":18001", a.httpServer.Addr)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"alice@example.com","password":"s3cret-pass"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Bearer", body["tokenType"])

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShutdown_WithoutRun(t *testing.T) {
	a, err := NewApp(memoryConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NoError(t, a.Shutdown())
}
