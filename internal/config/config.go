package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/gogotex/sessionguard/internal/tokens"
)

// Session store backends selectable with SESSION_STORE.
const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Sessions  SessionsConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Users     UsersConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	LogLevel     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (s ServerConfig) Addr() string { return net.JoinHostPort(s.Host, s.Port) }

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type PostgresConfig struct {
	DSN     string
	Timeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool { return r.Host != "" }
func (r RedisConfig) Addr() string  { return net.JoinHostPort(r.Host, r.Port) }

type JWTConfig struct {
	Secret          string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type SessionsConfig struct {
	Store               string
	MaxPerIdentity      int
	StrictDeviceBinding bool
	SweepSchedule       string
	SweeperEnabled      bool
	RedisPrefix         string
}

type RateLimitConfig struct {
	Enabled           bool
	UseRedis          bool
	LoginPerMinute    int
	SignupPerMinute   int
	APIPerMinute      int
	APIPrefixes       []string
	MaxBuckets        int
	TrustProxyHeaders bool
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type AuditConfig struct {
	RedisChannel string
	MinIO        MinIOConfig
}

type UsersConfig struct {
	BcryptCost int
}

func setDefaults() {
	viper.SetDefault("SERVER_PORT", "5001")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MONGODB_DATABASE", "sessionguard")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("POSTGRES_TIMEOUT", 10)
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("JWT_ISSUER", "sessionguard")
	viper.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)
	viper.SetDefault("JWT_REFRESH_TOKEN_TTL", 10080)
	viper.SetDefault("SESSION_STORE", StoreMemory)
	viper.SetDefault("SESSION_MAX_PER_IDENTITY", 5)
	viper.SetDefault("SESSION_STRICT_DEVICE_BINDING", false)
	viper.SetDefault("SESSION_SWEEP_SCHEDULE", "@daily")
	viper.SetDefault("SESSION_SWEEPER_ENABLED", true)
	viper.SetDefault("SESSION_REDIS_PREFIX", "session:")
	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_USE_REDIS", false)
	viper.SetDefault("RATE_LIMIT_LOGIN_PER_MINUTE", 10)
	viper.SetDefault("RATE_LIMIT_SIGNUP_PER_MINUTE", 5)
	viper.SetDefault("RATE_LIMIT_API_PER_MINUTE", 100)
	viper.SetDefault("RATE_LIMIT_API_PREFIXES", "/api/")
	viper.SetDefault("RATE_LIMIT_MAX_BUCKETS", 100000)
	viper.SetDefault("RATE_LIMIT_TRUST_PROXY_HEADERS", true)
	viper.SetDefault("AUDIT_REDIS_CHANNEL", "")
	viper.SetDefault("MINIO_BUCKET", "sessionguard-audit")
	viper.SetDefault("BCRYPT_COST", 0)
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()
	setDefaults()

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			LogLevel:     viper.GetString("LOG_LEVEL"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Postgres: PostgresConfig{
			DSN:     viper.GetString("POSTGRES_DSN"),
			Timeout: time.Duration(viper.GetInt("POSTGRES_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret:          os.Getenv("JWT_SECRET"),
			Issuer:          viper.GetString("JWT_ISSUER"),
			AccessTokenTTL:  time.Duration(viper.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
			RefreshTokenTTL: time.Duration(viper.GetInt("JWT_REFRESH_TOKEN_TTL")) * time.Minute,
		},
		Sessions: SessionsConfig{
			Store:               strings.ToLower(viper.GetString("SESSION_STORE")),
			MaxPerIdentity:      viper.GetInt("SESSION_MAX_PER_IDENTITY"),
			StrictDeviceBinding: viper.GetBool("SESSION_STRICT_DEVICE_BINDING"),
			SweepSchedule:       viper.GetString("SESSION_SWEEP_SCHEDULE"),
			SweeperEnabled:      viper.GetBool("SESSION_SWEEPER_ENABLED"),
			RedisPrefix:         viper.GetString("SESSION_REDIS_PREFIX"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:          viper.GetBool("RATE_LIMIT_USE_REDIS"),
			LoginPerMinute:    viper.GetInt("RATE_LIMIT_LOGIN_PER_MINUTE"),
			SignupPerMinute:   viper.GetInt("RATE_LIMIT_SIGNUP_PER_MINUTE"),
			APIPerMinute:      viper.GetInt("RATE_LIMIT_API_PER_MINUTE"),
			APIPrefixes:       splitList(viper.GetString("RATE_LIMIT_API_PREFIXES")),
			MaxBuckets:        viper.GetInt("RATE_LIMIT_MAX_BUCKETS"),
			TrustProxyHeaders: viper.GetBool("RATE_LIMIT_TRUST_PROXY_HEADERS"),
		},
		Audit: AuditConfig{
			RedisChannel: viper.GetString("AUDIT_REDIS_CHANNEL"),
			MinIO: MinIOConfig{
				Endpoint:  viper.GetString("MINIO_ENDPOINT"),
				AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
				SecretKey: os.Getenv("MINIO_SECRET_KEY"),
				UseSSL:    viper.GetBool("MINIO_USE_SSL"),
				Bucket:    viper.GetString("MINIO_BUCKET"),
			},
		},
		Users: UsersConfig{
			BcryptCost: viper.GetInt("BCRYPT_COST"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if len(c.JWT.Secret) < tokens.MinSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", tokens.MinSecretLength)
	}
	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0 {
		return fmt.Errorf("JWT token TTLs must be positive")
	}
	switch c.Sessions.Store {
	case StoreMemory:
	case StoreMongo:
		if c.MongoDB.URI == "" {
			return fmt.Errorf("MONGODB_URI is required for SESSION_STORE=%s", StoreMongo)
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for SESSION_STORE=%s", StorePostgres)
		}
	case StoreRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("REDIS_HOST is required for SESSION_STORE=%s", StoreRedis)
		}
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.Sessions.Store)
	}
	if c.Sessions.MaxPerIdentity < 1 {
		return fmt.Errorf("SESSION_MAX_PER_IDENTITY must be at least 1")
	}
	rl := c.RateLimit
	if rl.LoginPerMinute <= 0 || rl.SignupPerMinute <= 0 || rl.APIPerMinute <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if rl.MaxBuckets <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_BUCKETS must be positive")
	}
	if rl.UseRedis && !c.Redis.Enabled() {
		return fmt.Errorf("REDIS_HOST is required when RATE_LIMIT_USE_REDIS is set")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
