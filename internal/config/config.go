package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration required by the API process.
// Values come from env (optionally merged over a YAML file named by CONFIG_FILE).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	LiveKit   LiveKitConfig
	Twilio    TwilioConfig
	Resemble  ResembleConfig
	Calls     CallsConfig
	Telemetry TelemetryConfig
	CORS      CORSConfig
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

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// AutoMigrate applies the embedded schema at startup.
	AutoMigrate bool
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ServiceTokenTTL time.Duration
}

type LiveKitConfig struct {
	URL       string
	APIKey    string
	APISecret string
	// OutboundTrunkID is the SIP trunk used for outbound dials and transfers.
	OutboundTrunkID string
}

// Configured reports whether server API calls can be made.
func (c LiveKitConfig) Configured() bool {
	return c.URL != "" && c.APIKey != "" && c.APISecret != ""
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// SIPDomain is the LiveKit SIP ingress host inbound calls are bridged to.
	SIPDomain string
}

type ResembleConfig struct {
	APIKey   string
	CacheTTL time.Duration
}

type CallsConfig struct {
	NoAnswerTimeout       time.Duration
	MaxConcurrentOutbound int
	EnforceBalance        bool
	// QueueBackend is "redis" or "memory".
	QueueBackend string
}

type TelemetryConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	SampleRate  float64
}

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	c := Config{}
	var parseErrs []error
	p := parser{v: v}

	c.App.Env = p.str("APP_ENV")
	c.App.Port = p.requiredInt("APP_PORT", &parseErrs)

	c.DB.Host = p.str("DB_HOST")
	c.DB.Port = p.requiredInt("DB_PORT", &parseErrs)
	c.DB.User = p.str("DB_USER")
	c.DB.Password = v.GetString("DB_PASSWORD")
	c.DB.Name = p.str("DB_NAME")
	c.DB.SSLMode = p.str("DB_SSLMODE")
	c.DB.AutoMigrate = v.GetBool("DB_AUTO_MIGRATE")

	c.Redis.Host = p.str("REDIS_HOST")
	c.Redis.Port = p.requiredInt("REDIS_PORT", &parseErrs)

	c.Auth.JWTSecret = v.GetString("JWT_SECRET")
	c.Auth.JWTIssuer = p.str("JWT_ISSUER")
	c.Auth.JWTAudience = p.str("JWT_AUDIENCE")
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = p.duration("JWT_ACCESS_TTL", &parseErrs)
	c.Auth.RefreshTokenTTL = p.duration("JWT_REFRESH_TTL", &parseErrs)
	c.Auth.ServiceTokenTTL = p.duration("JWT_SERVICE_TTL", &parseErrs)

	c.LiveKit.URL = p.str("LIVEKIT_URL")
	c.LiveKit.APIKey = p.str("LIVEKIT_API_KEY")
	c.LiveKit.APISecret = v.GetString("LIVEKIT_API_SECRET")
	c.LiveKit.OutboundTrunkID = p.str("LIVEKIT_SIP_TRUNK_ID")

	c.Twilio.AccountSID = p.str("TWILIO_ACCOUNT_SID")
	c.Twilio.AuthToken = v.GetString("TWILIO_AUTH_TOKEN")
	c.Twilio.SIPDomain = p.str("TWILIO_SIP_DOMAIN")

	c.Resemble.APIKey = v.GetString("RESEMBLE_API_KEY")
	c.Resemble.CacheTTL = p.duration("RESEMBLE_CACHE_TTL", &parseErrs)

	c.Calls.NoAnswerTimeout = p.duration("CALL_NO_ANSWER_TIMEOUT", &parseErrs)
	c.Calls.MaxConcurrentOutbound = p.optionalInt("CALL_MAX_CONCURRENT_OUTBOUND", &parseErrs)
	c.Calls.EnforceBalance = v.GetBool("CALL_ENFORCE_BALANCE")
	c.Calls.QueueBackend = p.str("TASK_QUEUE_BACKEND")

	c.Telemetry.Enabled = v.GetBool("OTEL_ENABLED")
	c.Telemetry.Endpoint = p.str("OTEL_EXPORTER_OTLP_ENDPOINT")
	c.Telemetry.ServiceName = p.str("OTEL_SERVICE_NAME")
	c.Telemetry.SampleRate = v.GetFloat64("OTEL_SAMPLE_RATE")

	if origins := p.str("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORS.AllowedOrigins = append(c.CORS.AllowedOrigins, o)
			}
		}
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("TASK_QUEUE_BACKEND", "redis")
	v.SetDefault("OTEL_SERVICE_NAME", "voice-platform")
	v.SetDefault("OTEL_SAMPLE_RATE", 1.0)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
}

// Validate checks the config and fills environment-dependent defaults in place.
func (c *Config) Validate() error {
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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if !c.LiveKit.Configured() {
			errs = append(errs, errors.New("LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.ServiceTokenTTL <= 0 {
		c.Auth.ServiceTokenTTL = 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Resemble.CacheTTL <= 0 {
		c.Resemble.CacheTTL = 5 * time.Minute
	}

	if c.Calls.NoAnswerTimeout <= 0 {
		c.Calls.NoAnswerTimeout = 60 * time.Second
	}
	if c.Calls.MaxConcurrentOutbound < 0 {
		errs = append(errs, fmt.Errorf("CALL_MAX_CONCURRENT_OUTBOUND must be >= 0, got %d", c.Calls.MaxConcurrentOutbound))
	}
	if c.Calls.QueueBackend == "" {
		c.Calls.QueueBackend = "redis"
	}
	if c.Calls.QueueBackend != "redis" && c.Calls.QueueBackend != "memory" {
		errs = append(errs, fmt.Errorf("TASK_QUEUE_BACKEND must be redis or memory, got %q", c.Calls.QueueBackend))
	}
	if c.IsProduction() && c.Calls.QueueBackend == "memory" {
		errs = append(errs, errors.New("TASK_QUEUE_BACKEND=memory is not allowed in production"))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLE_RATE must be within [0,1], got %v", c.Telemetry.SampleRate))
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

type parser struct {
	v *viper.Viper
}

func (p parser) str(key string) string {
	return strings.TrimSpace(p.v.GetString(key))
}

func (p parser) requiredInt(key string, errs *[]error) int {
	raw := p.str(key)
	if raw == "" {
		*errs = append(*errs, fmt.Errorf("%s is required", key))
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, raw))
		return 0
	}
	return n
}

func (p parser) optionalInt(key string, errs *[]error) int {
	if p.str(key) == "" {
		return 0
	}
	return p.requiredInt(key, errs)
}

func (p parser) duration(key string, errs *[]error) time.Duration {
	raw := p.str(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a duration, got %q", key, raw))
		return 0
	}
	return d
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
