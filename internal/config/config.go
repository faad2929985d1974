package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything tunable at process start. Ledger parameters are
// handed to services at construction, never read from the environment inside
// the core.
type Config struct {
	DatabaseURL string
	RedisAddr   string
	RedisDB     int
	Port        string
	JWTSecret   string

	Ledger LedgerConfig
	OTP    OTPConfig
}

// LedgerConfig holds credit entitlement parameters.
type LedgerConfig struct {
	// InitialCredits is granted to the redeem wallet at registration.
	InitialCredits int
	// CreditLimit caps the redeem wallet's standing balance at redemption time.
	CreditLimit int
	// RedemptionAmount is added per free redemption, before clipping.
	RedemptionAmount int
	// RedemptionWindow is the cooldown between free redemptions.
	RedemptionWindow time.Duration
}

// OTPConfig holds verification-code parameters.
type OTPConfig struct {
	CodeLength  int
	Expiry      time.Duration
	MaxAttempts int
	// Freshness bounds how long a verified code may be consumed by a
	// follow-up step such as registration.
	Freshness time.Duration
}

// New loads configuration from the environment (and .env if present) and
// validates required values. A malformed value for any numeric or duration
// tunable is an error, never a silent fallback: these control user-facing
// entitlements.
func New() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	envInt := func(key string, fallback int) int {
		v := os.Getenv(key)
		if v == "" {
			return fallback
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %q is not an integer", key, v))
			return fallback
		}
		return n
	}
	envDuration := func(key string, fallback time.Duration) time.Duration {
		v := os.Getenv(key)
		if v == "" {
			return fallback
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %q is not a duration", key, v))
			return fallback
		}
		return d
	}

	cfg := &Config{
		DatabaseURL: os.Getenv("HEARTLINK_DATABASE_URL"),
		RedisAddr:   os.Getenv("HEARTLINK_REDIS_ADDR"),
		RedisDB:     envInt("HEARTLINK_REDIS_DB", 0),
		Port:        getEnvDefault("HEARTLINK_PORT", "8080"),
		JWTSecret:   os.Getenv("HEARTLINK_JWT_SECRET"),
		Ledger: LedgerConfig{
			InitialCredits:   envInt("HEARTLINK_INITIAL_CREDITS", 3),
			CreditLimit:      envInt("HEARTLINK_CREDIT_LIMIT", 5),
			RedemptionAmount: envInt("HEARTLINK_REDEMPTION_AMOUNT", 1),
			RedemptionWindow: envDuration("HEARTLINK_REDEMPTION_WINDOW", 24*time.Hour),
		},
		OTP: OTPConfig{
			CodeLength:  envInt("HEARTLINK_OTP_LENGTH", 6),
			Expiry:      envDuration("HEARTLINK_OTP_EXPIRY", 10*time.Minute),
			MaxAttempts: envInt("HEARTLINK_OTP_MAX_ATTEMPTS", 3),
			Freshness:   envDuration("HEARTLINK_OTP_FRESHNESS", 15*time.Minute),
		},
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("missing required env: HEARTLINK_DATABASE_URL")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("missing required env: HEARTLINK_REDIS_ADDR")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("missing required env: HEARTLINK_JWT_SECRET")
	}
	if cfg.Ledger.InitialCredits < 0 || cfg.Ledger.CreditLimit < 0 || cfg.Ledger.RedemptionAmount < 0 {
		return nil, fmt.Errorf("ledger credit amounts must not be negative")
	}
	if cfg.Ledger.RedemptionWindow <= 0 {
		return nil, fmt.Errorf("HEARTLINK_REDEMPTION_WINDOW must be positive")
	}
	if cfg.OTP.CodeLength < 4 {
		return nil, fmt.Errorf("HEARTLINK_OTP_LENGTH must be at least 4")
	}
	if cfg.OTP.MaxAttempts < 1 {
		return nil, fmt.Errorf("HEARTLINK_OTP_MAX_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
