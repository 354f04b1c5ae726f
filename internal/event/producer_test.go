package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgkafka "github.com/utafrali/projectflow/pkg/kafka"
	"github.com/utafrali/projectflow/pkg/logger"
)

type published struct {
	topic string
	event *pkgkafka.Event
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []published
	err   error
	calls int
}

func (f *fakeSender) Publish(_ context.Context, topic string, e *pkgkafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topic: topic, event: e})
	return nil
}

func testBreaker(name string) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Name = name
	cfg.Timeout = time.Hour
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProducer_Topics(t *testing.T) {
	assert.Equal(t, "projectflow.auth.login_succeeded", TopicLoginSucceeded)
	assert.Equal(t, "projectflow.auth.login_failed", TopicLoginFailed)
	assert.Equal(t, "projectflow.auth.token_reuse_detected", TopicTokenReuseDetected)
	assert.Equal(t, "projectflow.auth.logged_out", TopicLoggedOut)
}

func TestProducer_LoginSucceeded(t *testing.T) {
	sender := &fakeSender{}
	p := NewProducer(sender, testBreaker("test-login-succeeded"), discard())
	ctx := logger.WithCorrelationID(context.Background(), "corr-1")

	require.NoError(t, p.LoginSucceeded(ctx, "u-1"))

	require.Len(t, sender.sent, 1)
	got := sender.sent[0]
	assert.Equal(t, TopicLoginSucceeded, got.topic)
	assert.Equal(t, "u-1", got.event.Subject)
	assert.Equal(t, TopicLoginSucceeded, got.event.Type)
	assert.Equal(t, SourceAuthService, got.event.Source)
	assert.Equal(t, "corr-1", got.event.CorrelationID)

	var data LoginSucceededData
	require.NoError(t, got.event.DecodeData(&data))
	assert.Equal(t, "u-1", data.UserID)
}

func TestProducer_PayloadsCarryNoSecrets(t *testing.T) {
	sender := &fakeSender{}
	p := NewProducer(sender, testBreaker("test-payloads"), discard())
	ctx := context.Background()

	require.NoError(t, p.LoginFailed(ctx, "", "unknown_email"))
	require.NoError(t, p.TokenReuseDetected(ctx, "u-1", "rt-1", 3))
	require.NoError(t, p.LoggedOut(ctx, "u-1", true, 2))

	require.Len(t, sender.sent, 3)
	var failed LoginFailedData
	require.NoError(t, sender.sent[0].event.DecodeData(&failed))
	assert.Equal(t, "unknown_email", failed.Reason)
	assert.JSONEq(t, `{"reason":"unknown_email"}`, string(sender.sent[0].event.Data))

	var reuse TokenReuseDetectedData
	require.NoError(t, sender.sent[1].event.DecodeData(&reuse))
	assert.Equal(t, TokenReuseDetectedData{UserID: "u-1", TokenID: "rt-1", RevokedTokens: 3}, reuse)

	var out LoggedOutData
	require.NoError(t, sender.sent[2].event.DecodeData(&out))
	assert.True(t, out.AllSessions)
}

func TestProducer_BreakerOpensAfterFailures(t *testing.T) {
	sender := &fakeSender{err: errors.New("broker down")}
	p := NewProducer(sender, testBreaker("test-breaker-open"), discard())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := p.LoginSucceeded(ctx, "u-1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())

	err := p.LoginSucceeded(ctx, "u-1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, sender.calls, "open breaker must not reach the broker")
}

func TestNop(t *testing.T) {
	var n Nop
	ctx := context.Background()
	assert.NoError(t, n.LoginSucceeded(ctx, "u"))
	assert.NoError(t, n.LoginFailed(ctx, "", "r"))
	assert.NoError(t, n.TokenReuseDetected(ctx, "u", "t", 1))
	assert.NoError(t, n.LoggedOut(ctx, "u", false, 0))
}
