package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"

	pkgkafka "github.com/utafrali/projectflow/pkg/kafka"
	"github.com/utafrali/projectflow/pkg/logger"
)

// Kafka topics for auth domain events.
var (
	TopicLoginSucceeded     = pkgkafka.Topic("auth", "login_succeeded")
	TopicLoginFailed        = pkgkafka.Topic("auth", "login_failed")
	TopicTokenReuseDetected = pkgkafka.Topic("auth", "token_reuse_detected")
	TopicLoggedOut          = pkgkafka.Topic("auth", "logged_out")
)

// SourceAuthService is the source stamped on every event.
const SourceAuthService = "auth-service"

// LoginSucceededData is the payload for auth.login_succeeded.
type LoginSucceededData struct {
	UserID string `json:"user_id"`
}

// LoginFailedData is the payload for auth.login_failed. UserID is empty
// when the email did not match an account.
type LoginFailedData struct {
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason"`
}

// TokenReuseDetectedData is the payload for auth.token_reuse_detected.
type TokenReuseDetectedData struct {
	UserID        string `json:"user_id"`
	TokenID       string `json:"token_id"`
	RevokedTokens int64  `json:"revoked_tokens"`
}

// LoggedOutData is the payload for auth.logged_out.
type LoggedOutData struct {
	UserID        string `json:"user_id"`
	AllSessions   bool   `json:"all_sessions"`
	RevokedTokens int64  `json:"revoked_tokens,omitempty"`
}

var breakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
	},
	[]string{"name"},
)

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// BreakerConfig configures the circuit breaker in front of the broker.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns the breaker settings used in production.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "kafka-auth-events",
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Sender writes an event envelope to a topic. *pkgkafka.Producer implements it.
type Sender interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes auth events. While the breaker is open events are
// dropped without touching the broker.
type Producer struct {
	sender  Sender
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

// NewProducer wraps sender with a circuit breaker.
func NewProducer(sender Sender, cfg BreakerConfig, logger *slog.Logger) *Producer {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}
	breakerState.WithLabelValues(cfg.Name).Set(0)

	return &Producer{
		sender:  sender,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		logger:  logger,
	}
}

// State returns the breaker state.
func (p *Producer) State() gobreaker.State {
	return p.breaker.State()
}

func (p *Producer) LoginSucceeded(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicLoginSucceeded, userID, LoginSucceededData{UserID: userID})
}

func (p *Producer) LoginFailed(ctx context.Context, userID, reason string) error {
	return p.publish(ctx, TopicLoginFailed, userID, LoginFailedData{UserID: userID, Reason: reason})
}

func (p *Producer) TokenReuseDetected(ctx context.Context, userID, tokenID string, revoked int64) error {
	return p.publish(ctx, TopicTokenReuseDetected, userID, TokenReuseDetectedData{
		UserID:        userID,
		TokenID:       tokenID,
		RevokedTokens: revoked,
	})
}

func (p *Producer) LoggedOut(ctx context.Context, userID string, all bool, revoked int64) error {
	return p.publish(ctx, TopicLoggedOut, userID, LoggedOutData{
		UserID:        userID,
		AllSessions:   all,
		RevokedTokens: revoked,
	})
}

func (p *Producer) publish(ctx context.Context, topic, userID string, data any) error {
	evt, err := pkgkafka.NewEvent(topic, userID, SourceAuthService, data)
	if err != nil {
		return err
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.sender.Publish(ctx, topic, evt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("publish %s: broker circuit open: %w", topic, err)
		}
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published auth event",
		slog.String("topic", topic),
		slog.String("event_id", evt.ID),
	)
	return nil
}

// Nop discards every event. It is used when events are disabled.
type Nop struct{}

func (Nop) LoginSucceeded(context.Context, string) error                    { return nil }
func (Nop) LoginFailed(context.Context, string, string) error               { return nil }
func (Nop) TokenReuseDetected(context.Context, string, string, int64) error { return nil }
func (Nop) LoggedOut(context.Context, string, bool, int64) error            { return nil }
