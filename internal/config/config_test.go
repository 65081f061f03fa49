package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if !cfg.EnableUsageTracking {
		t.Error("EnableUsageTracking should default to true")
	}
	if !cfg.RegistryVerifyEnabled {
		t.Error("RegistryVerifyEnabled should default to true")
	}
	if cfg.JWTIssuer != "x402-facilitator" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "x402-facilitator")
	}
	if cfg.EventsKafkaTopic != "x402-events" {
		t.Errorf("EventsKafkaTopic = %q, want %q", cfg.EventsKafkaTopic, "x402-events")
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.PaywallAmount != 0 {
		t.Errorf("PaywallAmount = %v, want 0", cfg.PaywallAmount)
	}
	if cfg.AuthorizedIssuerList() != nil {
		t.Errorf("AuthorizedIssuerList = %v, want nil", cfg.AuthorizedIssuerList())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9999")
	os.Setenv("AUTHORIZED_ISSUERS", "did:example:alice, did:example:bob ,")
	os.Setenv("REQUIRED_CAPABILITIES", "chat_completion")
	os.Setenv("ENABLE_USAGE_TRACKING", "false")
	os.Setenv("PAYWALL_AMOUNT", "0.25")
	os.Setenv("PAYMENT_RECIPIENT", "recipient")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9999")
	}
	wantIssuers := []string{"did:example:alice", "did:example:bob"}
	if got := cfg.AuthorizedIssuerList(); !reflect.DeepEqual(got, wantIssuers) {
		t.Errorf("AuthorizedIssuerList = %v, want %v", got, wantIssuers)
	}
	if got := cfg.RequiredCapabilityList(); !reflect.DeepEqual(got, []string{"chat_completion"}) {
		t.Errorf("RequiredCapabilityList = %v", got)
	}
	if cfg.EnableUsageTracking {
		t.Error("EnableUsageTracking should be false")
	}
	if cfg.PaywallAmount != 0.25 {
		t.Errorf("PaywallAmount = %v, want 0.25", cfg.PaywallAmount)
	}
}

func TestLoad_PaywallRequiresRecipient(t *testing.T) {
	os.Clearenv()
	os.Setenv("PAYWALL_AMOUNT", "1")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should return error when PAYWALL_AMOUNT is set without PAYMENT_RECIPIENT")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}
}

func TestLoad_ProductionRequiresIssuerAllowList(t *testing.T) {
	os.Clearenv()
	os.Setenv("APP_ENV", "production")

	_, err := Load()
	if err == nil {
		t.Fatal("Load should return error in production without AUTHORIZED_ISSUERS")
	}
	if err.Error() != "config: AUTHORIZED_ISSUERS must be set when APP_ENV=production" {
		t.Errorf("error = %q", err.Error())
	}

	os.Setenv("AUTHORIZED_ISSUERS", "did:example:issuer")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with allow-list: %v", err)
	}
}

func TestLoad_BCRYPT_COSTRange(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  int
		err   bool
	}{
		{"valid min", "4", 4, false},
		{"valid max", "31", 31, false},
		{"too low", "3", 0, true},
		{"too high", "32", 0, true},
		{"zero", "0", 12, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("BCRYPT_COST", tc.value)

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.BcryptCost != tc.want {
				t.Errorf("BcryptCost = %d, want %d", cfg.BcryptCost, tc.want)
			}
		})
	}
}

func TestDurations_FallbackOnInvalid(t *testing.T) {
	cfg := &Config{
		JWTAccessTTL:            "invalid",
		CleanupInterval:         "-1m",
		PaymentCacheTTL:         "",
		PaymentRedemptionTTL:    "soon",
		RegistryCacheTTL:        "30s",
		RegistryRefreshInterval: "1h",
	}
	if got := cfg.AccessTTL(); got != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want 15m", got)
	}
	if got := cfg.CleanupEvery(); got != 5*time.Minute {
		t.Errorf("CleanupEvery = %v, want 5m", got)
	}
	if got := cfg.PaymentCacheWindow(); got != 5*time.Minute {
		t.Errorf("PaymentCacheWindow = %v, want 5m", got)
	}
	if got := cfg.PaymentRedemptionWindow(); got != 24*time.Hour {
		t.Errorf("PaymentRedemptionWindow = %v, want 24h", got)
	}
	if got := cfg.RegistryTTL(); got != 30*time.Second {
		t.Errorf("RegistryTTL = %v, want 30s", got)
	}
	if got := cfg.RegistryRefreshEvery(); got != time.Hour {
		t.Errorf("RegistryRefreshEvery = %v, want 1h", got)
	}
}

func TestKafkaBrokersList(t *testing.T) {
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil brokers")
	}
	cfg := &Config{KafkaBrokers: "a:9092, b:9092"}
	if got := cfg.KafkaBrokersList(); !reflect.DeepEqual(got, []string{"a:9092", "b:9092"}) {
		t.Errorf("KafkaBrokersList = %v", got)
	}
}

func TestRegistryExcludeTagList(t *testing.T) {
	cfg := &Config{RegistryExcludeTags: "internal, beta"}
	if got := cfg.RegistryExcludeTagList(); !reflect.DeepEqual(got, []string{"internal", "beta"}) {
		t.Errorf("RegistryExcludeTagList = %v", got)
	}
}

func TestTrustedProxyList(t *testing.T) {
	cfg := &Config{TrustedProxies: "10.0.0.0/8, 192.0.2.1,"}
	if got := cfg.TrustedProxyList(); !reflect.DeepEqual(got, []string{"10.0.0.0/8", "192.0.2.1"}) {
		t.Errorf("TrustedProxyList = %v", got)
	}
}
