package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Device   DeviceConfig
	Callback CallbackConfig
	Widget   WidgetConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// DeviceConfig configures the device-registered provider backend.
type DeviceConfig struct {
	BaseURL  string
	APIKey   string
	CallerID string

	// RegistrationWait bounds how long device initialization waits for the
	// registration confirmation before reporting ready_unconfirmed.
	RegistrationWait time.Duration
	RequestTimeout   time.Duration
}

// CallbackConfig configures the server-bridged provider backend.
type CallbackConfig struct {
	BaseURL     string
	APIKey      string
	AgentNumber string

	RequestTimeout time.Duration
}

// WidgetConfig tunes the callback provider's widget bootstrap sequence.
type WidgetConfig struct {
	ControlURL   string
	PollInterval time.Duration
	WaitTimeout  time.Duration
	InitRetries  int
	RetryBackoff time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Device.BaseURL = strings.TrimSpace(os.Getenv("DEVICE_BASE_URL"))
	c.Device.APIKey = os.Getenv("DEVICE_API_KEY")
	c.Device.CallerID = strings.TrimSpace(os.Getenv("DEVICE_CALLER_ID"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Device.RegistrationWait = mustDuration("DEVICE_REGISTRATION_WAIT")
	c.Device.RequestTimeout = mustDuration("DEVICE_REQUEST_TIMEOUT")

	c.Callback.BaseURL = strings.TrimSpace(os.Getenv("CALLBACK_BASE_URL"))
	c.Callback.APIKey = os.Getenv("CALLBACK_API_KEY")
	c.Callback.AgentNumber = strings.TrimSpace(os.Getenv("CALLBACK_AGENT_NUMBER"))
	c.Callback.RequestTimeout = mustDuration("CALLBACK_REQUEST_TIMEOUT")

	c.Widget.ControlURL = strings.TrimSpace(os.Getenv("WIDGET_CONTROL_URL"))
	c.Widget.PollInterval = mustDuration("WIDGET_POLL_INTERVAL")
	c.Widget.WaitTimeout = mustDuration("WIDGET_WAIT_TIMEOUT")
	c.Widget.RetryBackoff = mustDuration("WIDGET_RETRY_BACKOFF")
	if v := strings.TrimSpace(os.Getenv("WIDGET_INIT_RETRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("WIDGET_INIT_RETRIES must be an integer, got %q", v))
		}
		c.Widget.InitRetries = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.DB.SSLMode == "" && !c.IsProduction() {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}
	if c.Device.RegistrationWait <= 0 {
		c.Device.RegistrationWait = 10 * time.Second
	}
	if c.Device.RequestTimeout <= 0 {
		c.Device.RequestTimeout = 15 * time.Second
	}
	if c.Callback.RequestTimeout <= 0 {
		c.Callback.RequestTimeout = 15 * time.Second
	}
	if c.Widget.PollInterval <= 0 {
		c.Widget.PollInterval = 100 * time.Millisecond
	}
	if c.Widget.WaitTimeout <= 0 {
		c.Widget.WaitTimeout = 15 * time.Second
	}
	if c.Widget.InitRetries <= 0 {
		c.Widget.InitRetries = 3
	}
	if c.Widget.RetryBackoff <= 0 {
		c.Widget.RetryBackoff = 300 * time.Millisecond
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		}
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Device.BaseURL == "" {
		errs = append(errs, errors.New("DEVICE_BASE_URL is required"))
	}
	if c.Device.APIKey == "" {
		errs = append(errs, errors.New("DEVICE_API_KEY is required"))
	}

	if c.Callback.BaseURL == "" {
		errs = append(errs, errors.New("CALLBACK_BASE_URL is required"))
	}
	if c.Callback.APIKey == "" {
		errs = append(errs, errors.New("CALLBACK_API_KEY is required"))
	}
	if c.Callback.AgentNumber == "" {
		errs = append(errs, errors.New("CALLBACK_AGENT_NUMBER is required"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
