package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Port     int           `env:"TEST_CFG_PORT" envDefault:"8080"`
	LogLevel string        `env:"TEST_CFG_LOG_LEVEL" envDefault:"info"`
	Window   time.Duration `env:"TEST_CFG_WINDOW" envDefault:"15m"`
	Brokers  []string      `env:"TEST_CFG_BROKERS" envDefault:"a:9092,b:9092" envSeparator:","`
	Debug    bool          `env:"TEST_CFG_DEBUG" envDefault:"false"`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 15*time.Minute, cfg.Window)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers)
	assert.False(t, cfg.Debug)
}

func TestLoad_FromEnvVars(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "9090")
	t.Setenv("TEST_CFG_WINDOW", "90s")
	t.Setenv("TEST_CFG_DEBUG", "true")

	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.Window)
	assert.True(t, cfg.Debug)
}

func TestLoadFrom_IgnoresProcessEnvironment(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "9090")

	var cfg testConfig
	require.NoError(t, LoadFrom(&cfg, map[string]string{"TEST_CFG_LOG_LEVEL": "debug"}))

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidType(t *testing.T) {
	var cfg testConfig
	err := LoadFrom(&cfg, map[string]string{"TEST_CFG_WINDOW": "fortnight"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

type requiredConfig struct {
	APIKey string `env:"TEST_CFG_API_KEY,required"`
}

func TestLoad_RequiredField(t *testing.T) {
	var cfg requiredConfig
	err := LoadFrom(&cfg, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")

	require.NoError(t, LoadFrom(&cfg, map[string]string{"TEST_CFG_API_KEY": "secret-123"}))
	assert.Equal(t, "secret-123", cfg.APIKey)
}

var errTooSmall = errors.New("port too small")

type validatedConfig struct {
	Port int `env:"TEST_CFG_PORT" envDefault:"8080"`
}

func (c *validatedConfig) Validate() error {
	if c.Port < 1024 {
		return errTooSmall
	}
	return nil
}

func TestLoad_RunsValidate(t *testing.T) {
	var cfg validatedConfig
	require.NoError(t, LoadFrom(&cfg, nil))

	err := LoadFrom(&cfg, map[string]string{"TEST_CFG_PORT": "80"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errTooSmall)
	assert.Contains(t, err.Error(), "validate config")
}
