package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation labels.
const (
	opLogin     = "login"
	opRefresh   = "refresh"
	opLogout    = "logout"
	opLogoutAll = "logout_all"
)

// Outcome labels.
const (
	outcomeSuccess            = "success"
	outcomeInvalidCredentials = "invalid_credentials"
	outcomeInvalidToken       = "invalid_token"
	outcomeTokenExpired       = "token_expired"
	outcomeReuseDetected      = "reuse_detected"
	outcomeRaceLost           = "race_lost"
	outcomeThrottled          = "throttled"
	outcomeStoreUnavailable   = "store_unavailable"
	outcomeError              = "error"
)

var authOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_operations_total",
		Help: "Authentication operations by outcome",
	},
	[]string{"operation", "outcome"},
)

func observe(operation, outcome string) {
	authOperationsTotal.WithLabelValues(operation, outcome).Inc()
}
