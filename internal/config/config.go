package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	// DotEnv reports whether a .env file was loaded.
	DotEnv bool

	BotToken string
	LogLevel string

	DBDriver   string
	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string
	DBPath     string

	JWTSecret     string
	CountryCode   string
	SMSWebhookURL string
	SMSWebhookKey string
	ChallengeTTL  time.Duration
	MaxAttempts   int
	RateLimit     int
	RateWindow    time.Duration
	SweepInterval time.Duration
	// ChallengeRetention is how long an expired challenge is kept before the
	// sweeper deletes it. It is never shorter than RateWindow.
	ChallengeRetention time.Duration
	AgeMin, AgeMax     int
}

func Load() (*Config, error) {
	// .env is optional; the environment always wins.
	dotEnvErr := godotenv.Load()

	cfg := &Config{
		DotEnv:        dotEnvErr == nil,
		BotToken:      os.Getenv("BOT_TOKEN"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		DBDriver:      os.Getenv("DB_DRIVER"),
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBName:        os.Getenv("DB_NAME"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBPath:        os.Getenv("DB_PATH"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		CountryCode:   os.Getenv("COUNTRY_CODE"),
		SMSWebhookURL: os.Getenv("SMS_WEBHOOK_URL"),
		SMSWebhookKey: os.Getenv("SMS_WEBHOOK_KEY"),
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("config.Load: BOT_TOKEN is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config.Load: JWT_SECRET is required")
	}

	if cfg.DBDriver == "" {
		cfg.DBDriver = DriverPostgres
	}

	switch cfg.DBDriver {
	case DriverPostgres:
		if cfg.DBUser == "" || cfg.DBPassword == "" || cfg.DBName == "" {
			return nil, fmt.Errorf("config.Load: DB_USER, DB_PASSWORD, DB_NAME are required")
		}
	case DriverSQLite:
		if cfg.DBPath == "" {
			cfg.DBPath = "signup.db"
		}
	default:
		return nil, fmt.Errorf("config.Load: unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	if cfg.DBHost == "" {
		cfg.DBHost = "localhost"
	}

	if cfg.DBPort == "" {
		cfg.DBPort = "5432"
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.CountryCode == "" {
		cfg.CountryCode = "+91"
	}

	var err error

	if cfg.ChallengeTTL, err = durationEnv("CHALLENGE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	if cfg.RateWindow, err = durationEnv("CHALLENGE_RATE_WINDOW", 10*time.Minute); err != nil {
		return nil, err
	}

	if cfg.SweepInterval, err = durationEnv("CHALLENGE_SWEEP_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}

	if cfg.ChallengeRetention, err = durationEnv("CHALLENGE_RETENTION", 24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.ChallengeRetention < cfg.RateWindow {
		return nil, fmt.Errorf("config.Load: CHALLENGE_RETENTION must not be shorter than CHALLENGE_RATE_WINDOW")
	}

	if cfg.MaxAttempts, err = intEnv("CHALLENGE_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}

	if cfg.RateLimit, err = intEnv("CHALLENGE_RATE_LIMIT", 3); err != nil {
		return nil, err
	}

	if cfg.AgeMin, err = intEnv("AGE_MIN", 12); err != nil {
		return nil, err
	}

	if cfg.AgeMax, err = intEnv("AGE_MAX", 90); err != nil {
		return nil, err
	}

	if cfg.AgeMin >= cfg.AgeMax {
		return nil, fmt.Errorf("config.Load: AGE_MIN must be below AGE_MAX")
	}

	return cfg, nil
}

// DSN builds the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == DriverSQLite {
		return c.DBPath
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config.Load: %s must be a positive duration", key)
	}

	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config.Load: %s must be a positive integer", key)
	}

	return n, nil
}
