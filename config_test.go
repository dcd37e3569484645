package connkit

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("postgres://localhost/db")

	if cfg.URL != "postgres://localhost/db" {
		t.Errorf("Expected URL to be preserved, got %s", cfg.URL)
	}
	if cfg.MaxOpenConns != 25 {
		t.Errorf("Expected MaxOpenConns 25, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != 5 {
		t.Errorf("Expected MaxIdleConns 5, got %d", cfg.MaxIdleConns)
	}
	if cfg.RetryAttempts != 5 {
		t.Errorf("Expected RetryAttempts 5, got %d", cfg.RetryAttempts)
	}
	if cfg.RetryBaseDelay != 500*time.Millisecond {
		t.Errorf("Expected RetryBaseDelay 500ms, got %v", cfg.RetryBaseDelay)
	}
	if cfg.InitTimeout != 0 {
		t.Errorf("Expected InitTimeout to default to 0 (unbounded), got %v", cfg.InitTimeout)
	}
	if cfg.CloseTimeout != 10*time.Second {
		t.Errorf("Expected CloseTimeout 10s, got %v", cfg.CloseTimeout)
	}
	if cfg.HealthTimeout != 5*time.Second {
		t.Errorf("Expected HealthTimeout 5s, got %v", cfg.HealthTimeout)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{
		URL:           "postgres://localhost/db",
		MaxOpenConns:  3,
		RetryAttempts: 1,
	}
	cfg.applyDefaults()

	if cfg.MaxOpenConns != 3 {
		t.Errorf("Expected explicit MaxOpenConns 3, got %d", cfg.MaxOpenConns)
	}
	if cfg.RetryAttempts != 1 {
		t.Errorf("Expected explicit RetryAttempts 1, got %d", cfg.RetryAttempts)
	}
	if cfg.MaxIdleConns != 5 {
		t.Errorf("Expected defaulted MaxIdleConns 5, got %d", cfg.MaxIdleConns)
	}
}

func lookupFromMap(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestConfigFromEnv_RequiresURL(t *testing.T) {
	_, err := ConfigFromEnv(lookupFromMap(map[string]string{}))
	if err == nil {
		t.Fatal("Expected error for missing URL")
	}
	if !IsConfiguration(err) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestConfigFromEnv_ParsesValues(t *testing.T) {
	cfg, err := ConfigFromEnv(lookupFromMap(map[string]string{
		EnvURL:                   "postgres://app@db:5432/app",
		EnvPoolMin:               "2",
		EnvPoolMax:               "50",
		EnvRetryAttempts:         "8",
		EnvRetryBaseDelay:        "250",
		EnvInitTimeout:           "30000",
		EnvCloseTimeout:          "2000",
		EnvSSL:                   "true",
		EnvSSLRejectUnauthorized: "false",
		EnvSSLCAFile:             "/etc/certs/ca.pem",
	}))
	if err != nil {
		t.Fatalf("ConfigFromEnv failed: %v", err)
	}

	if cfg.MaxIdleConns != 2 {
		t.Errorf("Expected MaxIdleConns 2, got %d", cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns != 50 {
		t.Errorf("Expected MaxOpenConns 50, got %d", cfg.MaxOpenConns)
	}
	if cfg.RetryAttempts != 8 {
		t.Errorf("Expected RetryAttempts 8, got %d", cfg.RetryAttempts)
	}
	if cfg.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("Expected RetryBaseDelay 250ms, got %v", cfg.RetryBaseDelay)
	}
	if cfg.InitTimeout != 30*time.Second {
		t.Errorf("Expected InitTimeout 30s, got %v", cfg.InitTimeout)
	}
	if cfg.CloseTimeout != 2*time.Second {
		t.Errorf("Expected CloseTimeout 2s, got %v", cfg.CloseTimeout)
	}
	if !cfg.TLSEnabled {
		t.Error("Expected TLS to be enabled")
	}
	if !cfg.TLSSkipVerify {
		t.Error("Expected TLSSkipVerify when reject-unauthorized is false")
	}
	if cfg.TLSCAFile != "/etc/certs/ca.pem" {
		t.Errorf("Expected CA file path, got %s", cfg.TLSCAFile)
	}
}

func TestConfigFromEnv_UnparsableNumericsFallBack(t *testing.T) {
	cfg, err := ConfigFromEnv(lookupFromMap(map[string]string{
		EnvURL:           "postgres://app@db/app",
		EnvPoolMax:       "not-a-number",
		EnvRetryAttempts: "-4",
		EnvInitTimeout:   "10.5",
		EnvSSL:           "definitely",
	}))
	if err != nil {
		t.Fatalf("ConfigFromEnv failed: %v", err)
	}

	if cfg.MaxOpenConns != 25 {
		t.Errorf("Expected MaxOpenConns default 25, got %d", cfg.MaxOpenConns)
	}
	if cfg.RetryAttempts != 5 {
		t.Errorf("Expected RetryAttempts default 5, got %d", cfg.RetryAttempts)
	}
	if cfg.InitTimeout != 0 {
		t.Errorf("Expected InitTimeout default 0, got %v", cfg.InitTimeout)
	}
	if cfg.TLSEnabled {
		t.Error("Expected unparsable bool to fall back to false")
	}
}

func TestConfigFromEnv_RejectUnauthorizedDefaultsToEnforce(t *testing.T) {
	cfg, err := ConfigFromEnv(lookupFromMap(map[string]string{
		EnvURL: "postgres://app@db/app",
		EnvSSL: "1",
	}))
	if err != nil {
		t.Fatalf("ConfigFromEnv failed: %v", err)
	}
	if cfg.TLSSkipVerify {
		t.Error("Expected certificate verification to be enforced by default")
	}
}
