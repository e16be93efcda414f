package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string

	// TreasuryAccount receives settled escrow; PrivacyCustodyAccount
	// receives private-deposit balances on behalf of the privacy rail.
	TreasuryAccount       string
	PrivacyCustodyAccount string

	// SettlementTimeout is how long after purchase creation the buyer
	// may unilaterally refund a still-pending purchase.
	SettlementTimeout time.Duration

	// IdempotencyTTL is the replay window for Idempotency-Key requests.
	IdempotencyTTL time.Duration

	PostgresDSN  string
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	EventBuffer int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("CUSTODIA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("CUSTODIA_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	treasury := os.Getenv("CUSTODIA_TREASURY_ACCOUNT")
	if treasury == "" {
		treasury = "acct-treasury"
	}
	privacyCustody := os.Getenv("CUSTODIA_PRIVACY_CUSTODY_ACCOUNT")
	if privacyCustody == "" {
		privacyCustody = "acct-privacy-custody"
	}

	topic := os.Getenv("CUSTODIA_KAFKA_TOPIC")
	if topic == "" {
		topic = "custodia.ledger-events"
	}

	return Server{
		Addr:                  addr,
		JWTSigningKey:         jwtSigningKey,
		TreasuryAccount:       treasury,
		PrivacyCustodyAccount: privacyCustody,
		SettlementTimeout:     durationFromEnv("CUSTODIA_SETTLEMENT_TIMEOUT", 168*time.Hour),
		IdempotencyTTL:        durationFromEnv("CUSTODIA_IDEMPOTENCY_TTL", 24*time.Hour),
		PostgresDSN:           os.Getenv("CUSTODIA_POSTGRES_DSN"),
		RedisURL:              os.Getenv("CUSTODIA_REDIS_URL"),
		KafkaBrokers:          splitList(os.Getenv("CUSTODIA_KAFKA_BROKERS")),
		KafkaTopic:            topic,
		EventBuffer:           256,
	}
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
