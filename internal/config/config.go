// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health server listens on (e.g. :9090). Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// TrustedProxies is a comma-separated list of proxy IPs or CIDRs whose X-Forwarded-For is believed.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// DatabaseURL is the Postgres DSN. Empty keeps sessions, usage and the registry in memory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis URL for the shared payment verification cache. Empty uses an in-process cache.
	RedisURL string `mapstructure:"REDIS_URL"`

	// AuthorizedIssuers is a comma-separated issuer allow-list. Empty accepts every issuer.
	AuthorizedIssuers string `mapstructure:"AUTHORIZED_ISSUERS"`
	// RequiredCapabilities is a comma-separated list of capability names every token must grant.
	RequiredCapabilities string `mapstructure:"REQUIRED_CAPABILITIES"`
	// IssuerKeysFile is a YAML file mapping issuer identity to a PEM public key.
	IssuerKeysFile string `mapstructure:"ISSUER_KEYS_FILE"`
	// EnableUsageTracking records every successful validation in the usage log.
	EnableUsageTracking bool `mapstructure:"ENABLE_USAGE_TRACKING"`
	// CleanupInterval is how often sessions, usage records and payment sessions are pruned (e.g. "5m").
	CleanupInterval string `mapstructure:"CLEANUP_INTERVAL"`
	// RegionMapFile is an optional YAML map of region -> CIDR blocks used for spatial constraints.
	RegionMapFile string `mapstructure:"REGION_MAP_FILE"`
	// PolicyDir is an optional directory of extra Rego modules for the constraint policy.
	PolicyDir string `mapstructure:"POLICY_DIR"`
	// ProtectedUpstreamURL is the upstream proxied behind capability and payment checks.
	ProtectedUpstreamURL string `mapstructure:"PROTECTED_UPSTREAM_URL"`

	// FacilitatorURL is the public base URL of this facilitator, used in challenges and verification URLs.
	FacilitatorURL string `mapstructure:"FACILITATOR_URL"`
	// SettlementURL is the settlement gateway that submits and verifies on-chain transactions.
	SettlementURL string `mapstructure:"SETTLEMENT_URL"`
	// PaymentCacheTTL is how long a payment verification is served from cache (e.g. "5m").
	// It is also the replay window for X-Payment-Verification resubmissions.
	PaymentCacheTTL string `mapstructure:"PAYMENT_CACHE_TTL"`
	// PaymentRedemptionTTL is how long a redeemed transaction stays blocked from reopening the paywall (e.g. "24h").
	PaymentRedemptionTTL string `mapstructure:"PAYMENT_REDEMPTION_TTL"`
	// PaymentRecipient is the address that receives paywall payments.
	PaymentRecipient string `mapstructure:"PAYMENT_RECIPIENT"`
	// PaywallAmount is the price quoted for paywalled routes. Zero disables the paywall routes.
	PaywallAmount float64 `mapstructure:"PAYWALL_AMOUNT"`
	// PaywallCurrency is the currency of PaywallAmount (e.g. USDC).
	PaywallCurrency string `mapstructure:"PAYWALL_CURRENCY"`
	// PaywallSchemes is a comma-separated list of schemes offered in 402 challenges.
	PaywallSchemes string `mapstructure:"PAYWALL_SCHEMES"`

	// RegistryVerifyEnabled runs a live health check on registration and on stale reads.
	RegistryVerifyEnabled bool `mapstructure:"REGISTRY_VERIFY_ENABLED"`
	// RegistryCacheTTL is how long a verified registry entry stays fresh (e.g. "10m").
	RegistryCacheTTL string `mapstructure:"REGISTRY_CACHE_TTL"`
	// RegistryRefreshInterval is how often all active services are re-verified (e.g. "15m").
	RegistryRefreshInterval string `mapstructure:"REGISTRY_REFRESH_INTERVAL"`
	// RegistryExcludeTags hides services carrying any of these tags from every search (comma-separated).
	RegistryExcludeTags string `mapstructure:"REGISTRY_EXCLUDE_TAGS"`
	// RegistrySeedFile is a YAML catalog loaded by cmd/seed.
	RegistrySeedFile string `mapstructure:"REGISTRY_SEED_FILE"`

	// OperatorKeyHash is the bcrypt hash of the operator key exchanged for an operator JWT.
	OperatorKeyHash string `mapstructure:"OPERATOR_KEY_HASH"`
	// JWTPrivateKey is the PEM-encoded private key (RSA, ECDSA or Ed25519) or path to file for operator tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim of operator tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim of operator tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the operator token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint. Empty installs no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext OTLP connection.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// KafkaBrokers is a comma-separated list of Kafka broker addresses for delegation/payment events.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the Kafka topic for events (default x402-events).
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the events worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the events worker pushes log lines (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("AUTHORIZED_ISSUERS", "")
	v.SetDefault("REQUIRED_CAPABILITIES", "")
	v.SetDefault("ISSUER_KEYS_FILE", "")
	v.SetDefault("ENABLE_USAGE_TRACKING", true)
	v.SetDefault("CLEANUP_INTERVAL", "5m")
	v.SetDefault("POLICY_DIR", "")
	v.SetDefault("REGION_MAP_FILE", "")
	v.SetDefault("PROTECTED_UPSTREAM_URL", "")
	v.SetDefault("FACILITATOR_URL", "http://localhost:8080")
	v.SetDefault("SETTLEMENT_URL", "")
	v.SetDefault("PAYMENT_CACHE_TTL", "5m")
	v.SetDefault("PAYMENT_REDEMPTION_TTL", "24h")
	v.SetDefault("PAYMENT_RECIPIENT", "")
	v.SetDefault("PAYWALL_AMOUNT", 0)
	v.SetDefault("PAYWALL_CURRENCY", "USDC")
	v.SetDefault("PAYWALL_SCHEMES", "solana-usdc")
	v.SetDefault("REGISTRY_VERIFY_ENABLED", true)
	v.SetDefault("REGISTRY_CACHE_TTL", "10m")
	v.SetDefault("REGISTRY_REFRESH_INTERVAL", "15m")
	v.SetDefault("REGISTRY_EXCLUDE_TAGS", "")
	v.SetDefault("REGISTRY_SEED_FILE", "")
	v.SetDefault("OPERATOR_KEY_HASH", "")
	v.SetDefault("JWT_ISSUER", "x402-facilitator")
	v.SetDefault("JWT_AUDIENCE", "x402-operator")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "x402-events")
	v.SetDefault("KAFKA_GROUP_ID", "x402-events-worker")
	v.SetDefault("LOKI_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.PaywallAmount < 0 {
		return nil, errors.New("config: PAYWALL_AMOUNT must not be negative")
	}
	if cfg.PaywallAmount > 0 && cfg.PaymentRecipient == "" {
		return nil, errors.New("config: PAYMENT_RECIPIENT must be set when PAYWALL_AMOUNT is set")
	}
	if cfg.Env == "production" && cfg.AuthorizedIssuers == "" {
		return nil, errors.New("config: AUTHORIZED_ISSUERS must be set when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// CleanupEvery parses CleanupInterval. Returns 5m if unset or invalid.
func (c *Config) CleanupEvery() time.Duration {
	return parseDuration(c.CleanupInterval, 5*time.Minute)
}

// PaymentCacheWindow parses PaymentCacheTTL. Returns 5m if unset or invalid.
func (c *Config) PaymentCacheWindow() time.Duration {
	return parseDuration(c.PaymentCacheTTL, 5*time.Minute)
}

// PaymentRedemptionWindow parses PaymentRedemptionTTL. Returns 24h if unset or invalid.
func (c *Config) PaymentRedemptionWindow() time.Duration {
	return parseDuration(c.PaymentRedemptionTTL, 24*time.Hour)
}

// RegistryTTL parses RegistryCacheTTL. Returns 10m if unset or invalid.
func (c *Config) RegistryTTL() time.Duration {
	return parseDuration(c.RegistryCacheTTL, 10*time.Minute)
}

// RegistryRefreshEvery parses RegistryRefreshInterval. Returns 15m if unset or invalid.
func (c *Config) RegistryRefreshEvery() time.Duration {
	return parseDuration(c.RegistryRefreshInterval, 15*time.Minute)
}

// AuthorizedIssuerList returns the issuer allow-list. Empty means every issuer is accepted.
func (c *Config) AuthorizedIssuerList() []string {
	return splitList(c.AuthorizedIssuers)
}

// RequiredCapabilityList returns the capability names every token must grant.
func (c *Config) RequiredCapabilityList() []string {
	return splitList(c.RequiredCapabilities)
}

// PaywallSchemeList returns the schemes offered in paywall challenges.
func (c *Config) PaywallSchemeList() []string {
	return splitList(c.PaywallSchemes)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the event producer is enabled (non-empty list).
// RegistryExcludeTagList returns RegistryExcludeTags split on commas.
func (c *Config) RegistryExcludeTagList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.RegistryExcludeTags)
}

// TrustedProxyList returns TrustedProxies split on commas.
func (c *Config) TrustedProxyList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TrustedProxies)
}

func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
