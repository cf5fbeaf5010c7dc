package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// MinSecretLength is the HS256 key size floor (256 bits).
const MinSecretLength = 32

// MinTokenTTL is the shortest token lifetime. Token timestamps have
// whole-second precision, so anything shorter expires on issue.
const MinTokenTTL = time.Second

var ErrConfigurationInvalid = errors.New("invalid configuration")

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	DynamoDB  DynamoDBConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level string
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type JWTConfig struct {
	Secret        string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// BucketConfig describes one endpoint class: Capacity tokens, refilled
// greedily at Capacity per Window.
type BucketConfig struct {
	Capacity int64
	Window   time.Duration
}

type RateLimitConfig struct {
	Auth BucketConfig
	API  BucketConfig
	// IdleTTL enables eviction of idle buckets when positive.
	IdleTTL time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; variables already set win.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds and validates a Config from the given lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	r := &envReader{getenv: getenv}

	cfg := &Config{
		Server: ServerConfig{
			Port:         r.str("PORT", "8080"),
			ReadTimeout:  r.duration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: r.duration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Log: LogConfig{
			Level: r.str("LOG_LEVEL", "info"),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  r.str("DYNAMODB_ENDPOINT", ""),
			Region:    r.str("DYNAMODB_REGION", "us-east-1"),
			TableName: r.str("DYNAMODB_TABLE_NAME", "TaskManager"),
		},
		JWT: JWTConfig{
			Secret:        r.str("JWT_SECRET", ""),
			AccessExpiry:  r.millis("JWT_EXPIRATION_MS", 86400000),
			RefreshExpiry: r.millis("JWT_REFRESH_EXPIRATION_MS", 604800000),
		},
		RateLimit: RateLimitConfig{
			Auth: BucketConfig{
				Capacity: r.int64("RATE_LIMIT_AUTH_CAPACITY", 10),
				Window:   r.duration("RATE_LIMIT_AUTH_WINDOW", time.Minute),
			},
			API: BucketConfig{
				Capacity: r.int64("RATE_LIMIT_API_CAPACITY", 100),
				Window:   r.duration("RATE_LIMIT_API_WINDOW", time.Minute),
			},
			IdleTTL: r.duration("RATE_LIMIT_IDLE_TTL", 0),
		},
	}

	if len(r.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationInvalid, errors.Join(r.errs...))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings that would leave the service insecure or unable
// to enforce quotas.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("%w: JWT_SECRET environment variable is required", ErrConfigurationInvalid)
	}
	if len(c.JWT.Secret) < MinSecretLength {
		return fmt.Errorf("%w: JWT_SECRET must be at least %d bytes (256 bits)", ErrConfigurationInvalid, MinSecretLength)
	}
	if c.JWT.AccessExpiry < MinTokenTTL {
		return fmt.Errorf("%w: access token TTL must be at least %s", ErrConfigurationInvalid, MinTokenTTL)
	}
	if c.JWT.RefreshExpiry < MinTokenTTL {
		return fmt.Errorf("%w: refresh token TTL must be at least %s", ErrConfigurationInvalid, MinTokenTTL)
	}
	for name, b := range map[string]BucketConfig{"auth": c.RateLimit.Auth, "api": c.RateLimit.API} {
		if b.Capacity <= 0 || b.Window <= 0 {
			return fmt.Errorf("%w: %s rate limit needs positive capacity and window", ErrConfigurationInvalid, name)
		}
	}
	if c.RateLimit.IdleTTL < 0 {
		return fmt.Errorf("%w: RATE_LIMIT_IDLE_TTL must not be negative", ErrConfigurationInvalid)
	}
	return nil
}

type envReader struct {
	getenv func(string) string
	errs   []error
}

func (r *envReader) str(key, defaultValue string) string {
	if value := r.getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) int64(key string, defaultValue int64) int64 {
	value := r.getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func (r *envReader) millis(key string, defaultMs int64) time.Duration {
	ms := r.int64(key, defaultMs)
	const maxMs = math.MaxInt64 / int64(time.Millisecond)
	if ms > maxMs || ms < -maxMs {
		r.errs = append(r.errs, fmt.Errorf("%s: %d ms is out of range", key, ms))
		return time.Duration(defaultMs) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

func (r *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := r.getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}
