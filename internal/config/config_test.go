package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:      AppConfig{Env: "local", Port: 8080},
		DB:       DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "crm", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		Device:   DeviceConfig{BaseURL: "https://device.example.com", APIKey: "k", CallerID: "+15550100000"},
		Callback: CallbackConfig{BaseURL: "https://callback.example.com", APIKey: "k", AgentNumber: "+15550100001"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.DB.SSLMode = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestApplyDefaults_Timeouts(t *testing.T) {
	c := validConfig()
	c.applyDefaults()
	if c.Device.RegistrationWait != 10*time.Second {
		t.Fatalf("registration wait default = %v", c.Device.RegistrationWait)
	}
	if c.Widget.PollInterval != 100*time.Millisecond {
		t.Fatalf("widget poll default = %v", c.Widget.PollInterval)
	}
	if c.Widget.WaitTimeout != 15*time.Second {
		t.Fatalf("widget wait default = %v", c.Widget.WaitTimeout)
	}
	if c.Widget.InitRetries != 3 {
		t.Fatalf("widget retries default = %d", c.Widget.InitRetries)
	}
	if c.Widget.RetryBackoff != 300*time.Millisecond {
		t.Fatalf("widget backoff default = %v", c.Widget.RetryBackoff)
	}
}

func TestApplyDefaults_LocalSSLMode(t *testing.T) {
	c := validConfig()
	c.DB.SSLMode = ""
	c.applyDefaults()
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_CallbackNeedsAgentNumber(t *testing.T) {
	c := validConfig()
	c.Callback.AgentNumber = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing CALLBACK_AGENT_NUMBER")
	}
}
