package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotenv loads .env (or the given files) into the environment. Variables
// already set win. A missing file is not an error.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load dotenv: %w", err)
	}
	return nil
}

func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func GetEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func GetEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetEnvDuration accepts Go durations ("90s", "1h") or a bare number of seconds.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func GetEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

type Storage struct {
	Endpoint       string
	PublicEndpoint string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Listmonk struct {
	URL        string
	User       string
	Password   string
	TemplateID int
	Allowlist  string
}

type Webhook struct {
	URL    string
	Secret string
}

type Telemetry struct {
	Exporter     string
	Endpoint     string
	SamplingRate float64
	Environment  string
}

// Service is the lesson delivery service's configuration.
type Service struct {
	Port               string
	BaseURL            string
	DatabaseURL        string
	JWTSecret          string
	VideoSessionSecret string
	LogLevel           string
	LogFormat          string
	GeoIPDBPath        string
	Storage            Storage
	Redis              Redis
	Listmonk           Listmonk
	Telemetry          Telemetry
	Webhook            Webhook
	SignedURLTTL       time.Duration
	OTPTTL             time.Duration
	OTPResendCooldown  time.Duration
	VideoSessionTTL    time.Duration
	DeviceLeaseTTL     time.Duration
	// GlobalVideoSessions makes one verification unlock every lesson
	// (VIDEO_SESSION_SCOPE=global) instead of only the verified one.
	GlobalVideoSessions bool
	AllowedOrigins      []string
	EnableDocs          bool
	Version             string
}

var ErrMissing = errors.New("required setting missing")

func LoadService() (Service, error) {
	cfg := Service{
		Port:               GetEnv("PORT", "8080"),
		BaseURL:            GetEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		VideoSessionSecret: os.Getenv("VIDEO_SESSION_SECRET"),
		LogLevel:           GetEnv("LOG_LEVEL", "info"),
		LogFormat:          GetEnv("LOG_FORMAT", "json"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		Storage: Storage{
			Endpoint:       GetEnv("S3_ENDPOINT", "http://localhost:3900"),
			PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
			Bucket:         GetEnv("S3_BUCKET", "lessons"),
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			Region:         GetEnv("S3_REGION", "eu-central-1"),
		},
		Redis: Redis{
			Addr:     GetEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       int(GetEnvInt64("REDIS_DB", 0)),
		},
		Listmonk: Listmonk{
			URL:        os.Getenv("LISTMONK_URL"),
			User:       GetEnv("LISTMONK_USER", "admin"),
			Password:   os.Getenv("LISTMONK_PASSWORD"),
			TemplateID: int(GetEnvInt64("LISTMONK_OTP_TEMPLATE_ID", 0)),
			Allowlist:  os.Getenv("EMAIL_ALLOWLIST"),
		},
		Telemetry: Telemetry{
			Exporter:     os.Getenv("OTEL_EXPORTER"),
			Endpoint:     os.Getenv("OTEL_ENDPOINT"),
			SamplingRate: GetEnvFloat("OTEL_SAMPLING_RATE", 1),
			Environment:  GetEnv("ENVIRONMENT", "development"),
		},
		Webhook: Webhook{
			URL:    os.Getenv("LESSON_WEBHOOK_URL"),
			Secret: os.Getenv("LESSON_WEBHOOK_SECRET"),
		},
		SignedURLTTL:      GetEnvDuration("SIGNED_URL_TTL", time.Hour),
		OTPTTL:            GetEnvDuration("OTP_TTL", 300*time.Second),
		OTPResendCooldown: GetEnvDuration("OTP_RESEND_COOLDOWN", 60*time.Second),
		VideoSessionTTL:   GetEnvDuration("VIDEO_SESSION_TTL", 4*time.Hour),
		DeviceLeaseTTL:    GetEnvDuration("DEVICE_LEASE_TTL", 30*time.Second),
		AllowedOrigins:    splitList(os.Getenv("ALLOWED_ORIGINS")),
		EnableDocs:        GetEnvBool("API_DOCS_ENABLED", false),
		Version:           GetEnv("VERSION", "dev"),
	}
	cfg.GlobalVideoSessions = strings.EqualFold(os.Getenv("VIDEO_SESSION_SCOPE"), "global")

	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL: %w", ErrMissing)
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET: %w", ErrMissing)
	}
	if cfg.VideoSessionSecret == "" {
		cfg.VideoSessionSecret = cfg.JWTSecret
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
