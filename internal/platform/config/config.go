// Package config builds the process configuration from environment
// variables so main stays lean. Policy constants (attempt limits, windows,
// biometric bands) live here rather than in the services, because they are
// legal policy, not protocol.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates per-concern configuration.
type Config struct {
	Server    Server
	Postgres  Postgres
	Redis     Redis
	Gate      Gate
	Notice    Notice
	Tracking  Tracking
	Descargo  Descargo
	Integrity Integrity
	Biometric Biometric
	Delivery  Delivery
	Blob      Blob
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	BaseURL       string
	JWTSigningKey string
	AdminToken    string
}

// Postgres captures relational store configuration.
type Postgres struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Redis captures cache configuration. An empty URL disables Redis and the
// memory stores are used instead.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Gate captures identity-gate policy.
type Gate struct {
	MaxIdentifierAttempts int
	OTPLength             int
	OTPTTL                time.Duration
	MaxOTPAttempts        int
	TokenLifetime         time.Duration
}

// Notice captures notification state machine policy.
type Notice struct {
	StatutoryWindowDays  int
	ApproachingDueDays   int
	UpcomingDays         int
	PhysicalFallbackDays int
	MaxChallengeAttempts int
	ChallengeMaxDistance int
}

// Tracking captures engagement tracking thresholds.
type Tracking struct {
	MinScrollPct   float64
	MinDwell       time.Duration
	WordsPerMinute int
	SessionTTL     time.Duration
}

// Descargo captures the right-of-reply window.
type Descargo struct {
	WindowDays int
}

// Integrity captures timestamping provider configuration.
type Integrity struct {
	TSAEndpoints  []string
	TSATimeout    time.Duration
	NotaryURL     string
	NotaryTimeout time.Duration
}

// Biometric captures the similarity policy bands. The review band is policy,
// not protocol; keep it configurable.
type Biometric struct {
	ProviderURL      string
	Timeout          time.Duration
	ApproveThreshold float64
	ReviewThreshold  float64
}

// Delivery captures the channel gateway endpoints. An empty endpoint means
// the channel falls back to the logging provider.
type Delivery struct {
	EmailEndpoint    string
	SMSEndpoint      string
	WhatsAppEndpoint string
	APIKey           string
	Timeout          time.Duration
}

// Blob captures object storage configuration. An empty bucket selects the
// in-memory store; a custom endpoint points at an S3-compatible service.
type Blob struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// FromEnv builds a Config from environment variables, applying documented
// defaults for everything unset.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          envStr("CUSTODIA_ADDR", ":8080"),
			BaseURL:       envStr("CUSTODIA_BASE_URL", "http://localhost:8080"),
			JWTSigningKey: envStr("CUSTODIA_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			AdminToken:    envStr("CUSTODIA_ADMIN_TOKEN", ""),
		},
		Postgres: Postgres{
			DSN:             envStr("CUSTODIA_POSTGRES_DSN", ""),
			MaxOpenConns:    envInt("CUSTODIA_POSTGRES_MAX_OPEN", 25),
			MaxIdleConns:    envInt("CUSTODIA_POSTGRES_MAX_IDLE", 5),
			ConnMaxLifetime: envDuration("CUSTODIA_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: Redis{
			URL:          envStr("CUSTODIA_REDIS_URL", ""),
			PoolSize:     envInt("CUSTODIA_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CUSTODIA_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("CUSTODIA_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("CUSTODIA_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("CUSTODIA_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Gate: Gate{
			MaxIdentifierAttempts: envInt("CUSTODIA_GATE_MAX_ID_ATTEMPTS", 5),
			OTPLength:             envInt("CUSTODIA_GATE_OTP_LENGTH", 6),
			OTPTTL:                envDuration("CUSTODIA_GATE_OTP_TTL", 10*time.Minute),
			MaxOTPAttempts:        envInt("CUSTODIA_GATE_MAX_OTP_ATTEMPTS", 5),
			TokenLifetime:         envDuration("CUSTODIA_GATE_TOKEN_LIFETIME", 45*24*time.Hour),
		},
		Notice: Notice{
			StatutoryWindowDays:  envInt("CUSTODIA_NOTICE_WINDOW_DAYS", 30),
			ApproachingDueDays:   envInt("CUSTODIA_NOTICE_APPROACHING_DAYS", 5),
			UpcomingDays:         envInt("CUSTODIA_NOTICE_UPCOMING_DAYS", 15),
			PhysicalFallbackDays: envInt("CUSTODIA_NOTICE_FALLBACK_DAYS", 15),
			MaxChallengeAttempts: envInt("CUSTODIA_NOTICE_MAX_CHALLENGE_ATTEMPTS", 3),
			ChallengeMaxDistance: envInt("CUSTODIA_NOTICE_CHALLENGE_DISTANCE", 2),
		},
		Tracking: Tracking{
			MinScrollPct:   envFloat("CUSTODIA_TRACKING_MIN_SCROLL_PCT", 90),
			MinDwell:       envDuration("CUSTODIA_TRACKING_MIN_DWELL", 20*time.Second),
			WordsPerMinute: envInt("CUSTODIA_TRACKING_WPM", 200),
			SessionTTL:     envDuration("CUSTODIA_TRACKING_SESSION_TTL", 24*time.Hour),
		},
		Descargo: Descargo{
			WindowDays: envInt("CUSTODIA_DESCARGO_WINDOW_DAYS", 10),
		},
		Integrity: Integrity{
			TSAEndpoints:  envList("CUSTODIA_TSA_ENDPOINTS"),
			TSATimeout:    envDuration("CUSTODIA_TSA_TIMEOUT", 10*time.Second),
			NotaryURL:     envStr("CUSTODIA_NOTARY_URL", ""),
			NotaryTimeout: envDuration("CUSTODIA_NOTARY_TIMEOUT", 15*time.Second),
		},
		Biometric: Biometric{
			ProviderURL:      envStr("CUSTODIA_BIOMETRIC_URL", ""),
			Timeout:          envDuration("CUSTODIA_BIOMETRIC_TIMEOUT", 20*time.Second),
			ApproveThreshold: envFloat("CUSTODIA_BIOMETRIC_APPROVE", 95),
			ReviewThreshold:  envFloat("CUSTODIA_BIOMETRIC_REVIEW", 85),
		},
		Delivery: Delivery{
			EmailEndpoint:    envStr("CUSTODIA_DELIVERY_EMAIL_URL", ""),
			SMSEndpoint:      envStr("CUSTODIA_DELIVERY_SMS_URL", ""),
			WhatsAppEndpoint: envStr("CUSTODIA_DELIVERY_WHATSAPP_URL", ""),
			APIKey:           envStr("CUSTODIA_DELIVERY_API_KEY", ""),
			Timeout:          envDuration("CUSTODIA_DELIVERY_TIMEOUT", 10*time.Second),
		},
		Blob: Blob{
			Bucket:    envStr("CUSTODIA_BLOB_BUCKET", ""),
			Region:    envStr("CUSTODIA_BLOB_REGION", "us-east-1"),
			Endpoint:  envStr("CUSTODIA_BLOB_ENDPOINT", ""),
			AccessKey: envStr("CUSTODIA_BLOB_ACCESS_KEY", ""),
			SecretKey: envStr("CUSTODIA_BLOB_SECRET_KEY", ""),
		},
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
