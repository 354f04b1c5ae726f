package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/projectflow/internal/app"
	"github.com/utafrali/projectflow/internal/auth"
	"github.com/utafrali/projectflow/internal/config"
)

func stdinWith(t *testing.T, content string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stdin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestRun_HashUsesConfiguredScheme(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		scheme auth.PasswordScheme
		prefix string
	}{
		{
			name:   "bcrypt",
			env:    map[string]string{"BCRYPT_COST": "4"},
			scheme: auth.PasswordScheme{Algorithm: auth.AlgorithmBcrypt, BcryptCost: 4},
			prefix: "$2a$04$",
		},
		{
			name: "argon2id",
			env: map[string]string{
				"PASSWORD_HASH_ALGO": "argon2id",
				"ARGON2_MEMORY_KIB":  "1024",
				"ARGON2_ITERATIONS":  "1",
				"ARGON2_PARALLELISM": "1",
			},
			scheme: auth.PasswordScheme{
				Algorithm: auth.AlgorithmArgon2id,
				Argon2id:  auth.Argon2idParams{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
			},
			prefix: "$argon2id$v=19$m=1024,t=1,p=1$",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			var out, errOut bytes.Buffer
			err := run(context.Background(), []string{"hash"}, stdinWith(t, "s3cret pass\n"), &out, &errOut)
			require.NoError(t, err)

			hash := strings.TrimSpace(out.String())
			assert.True(t, strings.HasPrefix(hash, tt.prefix), hash)
			assert.True(t, tt.scheme.Produced(hash))

			ok, err := auth.ComparePassword(hash, "s3cret pass")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestRun_HashRejectsOtherSchemes(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"hash", "-algo", "argon2id"}, stdinWith(t, "pw\n"), &out, &errOut)
	assert.Error(t, err, "algorithm flags are not accepted")
	assert.Empty(t, out.String())

	t.Setenv("PASSWORD_HASH_ALGO", "md5")
	err = run(context.Background(), []string{"hash"}, stdinWith(t, "pw\n"), &out, &errOut)
	assert.ErrorContains(t, err, "PASSWORD_HASH_ALGO")
	assert.Empty(t, out.String())
}

func TestRun_HashRejectsEmptyPassword(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"hash"}, stdinWith(t, "\n"), &out, &errOut)
	assert.EqualError(t, err, "empty password")
	assert.Empty(t, out.String())
}

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	for _, args := range [][]string{nil, {"frobnicate"}, {"user"}} {
		err := run(context.Background(), args, stdinWith(t, ""), &out, &errOut)
		assert.ErrorIs(t, err, errUsage, "args %v", args)
	}
}

func TestRun_SmokeAgainstMemoryService(t *testing.T) {
	hash, err := auth.HashPasswordBcrypt("s3cret pass", bcrypt.MinCost)
	require.NoError(t, err)

	cfg, err := config.LoadFrom(map[string]string{
		"STORE_DRIVER":  "memory",
		"REDIS_ENABLED": "false",
		"BCRYPT_COST":   "4",
		"DEV_USERS":     "alice@example.com:" + hash,
	})
	require.NoError(t, err)

	a, err := app.NewApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	server := httptest.NewServer(a.Handler())
	defer server.Close()

	var out, errOut bytes.Buffer
	err = run(context.Background(),
		[]string{"smoke", "-url", server.URL, "-email", "alice@example.com"},
		stdinWith(t, "s3cret pass\n"), &out, &errOut)
	require.NoError(t, err, errOut.String())

	assert.Contains(t, out.String(), "login ok")
	assert.Contains(t, out.String(), "refresh ok")
	assert.Contains(t, out.String(), "reuse ok")
	assert.Contains(t, out.String(), "logout-all ok: 0 session(s) revoked")
}

func TestRun_SmokeWrongPassword(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"invalid credentials"}}`))
	}))
	defer server.Close()

	var out, errOut bytes.Buffer
	err := run(context.Background(),
		[]string{"smoke", "-url", server.URL, "-email", "alice@example.com"},
		stdinWith(t, "nope\n"), &out, &errOut)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login:")
	assert.Contains(t, err.Error(), "invalid credentials")
}
