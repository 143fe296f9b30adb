package common

import (
	"os"
	"strconv"
	"time"
)

// Config carries the process-level settings both binaries read from the
// environment at startup.
type Config struct {
	MongoURI      string
	MongoDatabase string

	// DispatchInterval paces the notification dispatch loop.
	DispatchInterval time.Duration
	// ExpirySweepInterval paces the recovery expiry sweeper.
	ExpirySweepInterval time.Duration

	// SanctionedAddresses seeds the static sanctions screener.
	SanctionedAddresses []string
	// SatsPerUSD seeds the fixed rate provider.
	SatsPerUSD float64
}

// LoadConfig reads configuration from the environment, applying defaults
// suitable for local development.
func LoadConfig() Config {
	cfg := Config{
		MongoURI:            envOr("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:       envOr("MONGO_DATABASE", "signing_core"),
		DispatchInterval:    envDurationOr("NOTIFY_DISPATCH_INTERVAL", 15*time.Second),
		ExpirySweepInterval: envDurationOr("RECOVERY_EXPIRY_INTERVAL", time.Hour),
		SatsPerUSD:          envFloatOr("SATS_PER_USD", 1000),
	}
	if raw := os.Getenv("SANCTIONED_ADDRESSES"); raw != "" {
		cfg.SanctionedAddresses = splitNonEmpty(raw)
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitNonEmpty(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}
