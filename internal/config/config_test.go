package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gogotex/sessionguard/internal/tokens"
)

const testSecret = "testsecret123456789012345678901234"

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, StoreMemory, cfg.Sessions.Store)
	require.Equal(t, 5, cfg.Sessions.MaxPerIdentity)
	require.False(t, cfg.Sessions.StrictDeviceBinding)
	require.Equal(t, "@daily", cfg.Sessions.SweepSchedule)
	require.Equal(t, 15*time.Minute, cfg.JWT.AccessTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTokenTTL)
	require.Equal(t, 10, cfg.RateLimit.LoginPerMinute)
	require.Equal(t, 5, cfg.RateLimit.SignupPerMinute)
	require.Equal(t, 100, cfg.RateLimit.APIPerMinute)
	require.Equal(t, []string{"/api/"}, cfg.RateLimit.APIPrefixes)
	require.Equal(t, 100000, cfg.RateLimit.MaxBuckets)
	require.True(t, cfg.RateLimit.TrustProxyHeaders)
	require.Equal(t, "0.0.0.0:5001", cfg.Server.Addr())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("SESSION_STORE", "Redis")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("SESSION_MAX_PER_IDENTITY", "3")
	t.Setenv("SESSION_STRICT_DEVICE_BINDING", "true")
	t.Setenv("RATE_LIMIT_USE_REDIS", "true")
	t.Setenv("RATE_LIMIT_API_PREFIXES", "/api/reviews, /api/posts ,")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, StoreRedis, cfg.Sessions.Store)
	require.Equal(t, 3, cfg.Sessions.MaxPerIdentity)
	require.True(t, cfg.Sessions.StrictDeviceBinding)
	require.True(t, cfg.RateLimit.UseRedis)
	require.Equal(t, []string{"/api/reviews", "/api/posts"}, cfg.RateLimit.APIPrefixes)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoadConfig_Validation(t *testing.T) {
	cases := map[string]map[string]string{
		"short secret":          {"JWT_SECRET": "short"},
		"unknown store":         {"JWT_SECRET": testSecret, "SESSION_STORE": "cassandra"},
		"mongo without uri":     {"JWT_SECRET": testSecret, "SESSION_STORE": "mongo"},
		"postgres without dsn":  {"JWT_SECRET": testSecret, "SESSION_STORE": "postgres"},
		"zero max sessions":     {"JWT_SECRET": testSecret, "SESSION_MAX_PER_IDENTITY": "0"},
		"negative login limit":  {"JWT_SECRET": testSecret, "RATE_LIMIT_LOGIN_PER_MINUTE": "-1"},
		"redis limiter no host": {"JWT_SECRET": testSecret, "RATE_LIMIT_USE_REDIS": "true"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

// Whatever LoadConfig accepts must also be accepted by the signer built from it.
func TestLoadConfig_SecretLengthMatchesSigner(t *testing.T) {
	exact := strings.Repeat("s", tokens.MinSecretLength)

	t.Setenv("JWT_SECRET", exact)
	cfg, err := LoadConfig()
	require.NoError(t, err)
	_, err = tokens.NewSigner(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL, cfg.JWT.Issuer)
	require.NoError(t, err)

	t.Setenv("JWT_SECRET", exact[1:])
	_, err = LoadConfig()
	require.Error(t, err)
}
