// Package config loads fangate's configuration from configs/fangate.yaml,
// an optional .env file and FANGATE_* style environment overrides
// (dots become underscores, e.g. STORE_REDIS_URL).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmerrifield20/fangate/internal/trust"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
	Trust       TrustConfig       `mapstructure:"trust"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Captcha     CaptchaConfig     `mapstructure:"captcha"`
	TextRisk    TextRiskConfig    `mapstructure:"textrisk"`
	LinkPreview LinkPreviewConfig `mapstructure:"linkpreview"`
	Events      EventsConfig      `mapstructure:"events"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Health      HealthConfig      `mapstructure:"health"`
	Policy      PolicyConfig      `mapstructure:"policy"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	GRPCPort     int      `mapstructure:"grpc_port"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
	RateLimitRPS int      `mapstructure:"rate_limit_rps"`
	BodyLimit    int64    `mapstructure:"body_limit"`
	// TrustedProxies lists the proxy CIDRs whose X-Forwarded-For is
	// believed. Empty means the TCP peer is always the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type StoreConfig struct {
	Backend   string        `mapstructure:"backend"` // redis | memory
	RedisURL  string        `mapstructure:"redis_url"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// DatabaseConfig enables the Postgres event sink when URL is set.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// KafkaConfig enables the Kafka event sink and message delivery when
// Brokers is non-empty.
type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	EventsTopic   string        `mapstructure:"events_topic"`
	MessagesTopic string        `mapstructure:"messages_topic"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

type FingerprintConfig struct {
	Secret string `mapstructure:"secret"`
}

type TrustConfig struct {
	DecayPerDay int            `mapstructure:"decay_per_day"`
	TTL         time.Duration  `mapstructure:"ttl"`
	MaxFactors  int            `mapstructure:"max_factors"`
	Deltas      map[string]int `mapstructure:"deltas"` // event -> score change; unset events keep their defaults
}

type RateLimitConfig struct {
	GlobalLimit  int           `mapstructure:"global_limit"`
	GlobalWindow time.Duration `mapstructure:"global_window"`
}

type CaptchaConfig struct {
	Provider             string        `mapstructure:"provider"` // turnstile | static
	Secret               string        `mapstructure:"secret"`
	StaticToken          string        `mapstructure:"static_token"`
	VerifyTimeout        time.Duration `mapstructure:"verify_timeout"`
	VelocityWindow       time.Duration `mapstructure:"velocity_window"`
	VelocityThreshold    int           `mapstructure:"velocity_threshold"`
	FingerprintTTL       time.Duration `mapstructure:"fingerprint_ttl"`
	FingerprintThreshold int           `mapstructure:"fingerprint_threshold"`
}

type TextRiskConfig struct {
	WordlistPath    string        `mapstructure:"wordlist_path"`
	BlockedDomains  []string      `mapstructure:"blocked_domains"`
	DNSBLZone       string        `mapstructure:"dnsbl_zone"`
	DNSBLTimeout    time.Duration `mapstructure:"dnsbl_timeout"`
	HighWeight      int           `mapstructure:"high_weight"`
	MediumWeight    int           `mapstructure:"medium_weight"`
	LowWeight       int           `mapstructure:"low_weight"`
	BlocklistWeight int           `mapstructure:"blocklist_weight"`
	// Actions maps category (safe, low, medium, high) to allow, flag or reject.
	Actions map[string]string `mapstructure:"actions"`
}

type LinkPreviewConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxBytes   int64         `mapstructure:"max_bytes"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
	FailureTTL time.Duration `mapstructure:"failure_ttl"`
}

type EventsConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AdminConfig enables the admin API when JWTSecret is set.
type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type TracingConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	FailThreshold int           `mapstructure:"fail_threshold"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.body_limit", 64<<10)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("store.op_timeout", "250ms")

	v.SetDefault("database.url", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.events_topic", "fangate.submission-events")
	v.SetDefault("kafka.messages_topic", "fan-messages.accepted")
	v.SetDefault("kafka.write_timeout", "5s")

	v.SetDefault("fingerprint.secret", "")

	v.SetDefault("trust.decay_per_day", 2)
	v.SetDefault("trust.ttl", "720h")
	v.SetDefault("trust.max_factors", 20)

	v.SetDefault("ratelimit.global_limit", 100)
	v.SetDefault("ratelimit.global_window", "60s")

	v.SetDefault("captcha.provider", "static")
	v.SetDefault("captcha.secret", "")
	v.SetDefault("captcha.static_token", "")
	v.SetDefault("captcha.verify_timeout", "5s")
	v.SetDefault("captcha.velocity_window", "10m")
	v.SetDefault("captcha.velocity_threshold", 5)
	v.SetDefault("captcha.fingerprint_ttl", "1h")
	v.SetDefault("captcha.fingerprint_threshold", 3)

	v.SetDefault("textrisk.wordlist_path", "configs/wordlist.yaml")
	v.SetDefault("textrisk.blocked_domains", []string{})
	v.SetDefault("textrisk.dnsbl_zone", "")
	v.SetDefault("textrisk.dnsbl_timeout", "500ms")
	v.SetDefault("textrisk.high_weight", 50)
	v.SetDefault("textrisk.medium_weight", 25)
	v.SetDefault("textrisk.low_weight", 10)
	v.SetDefault("textrisk.blocklist_weight", 60)
	v.SetDefault("textrisk.actions", map[string]string{
		"safe": "allow", "low": "allow", "medium": "flag", "high": "reject",
	})

	v.SetDefault("linkpreview.enabled", true)
	v.SetDefault("linkpreview.timeout", "3s")
	v.SetDefault("linkpreview.max_bytes", 512<<10)
	v.SetDefault("linkpreview.cache_ttl", "1h")
	v.SetDefault("linkpreview.failure_ttl", "1m")

	v.SetDefault("events.queue_size", 1024)
	v.SetDefault("events.write_timeout", "5s")

	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.issuer", "fangate")

	v.SetDefault("tracing.otlp_endpoint", "")

	v.SetDefault("health.check_interval", "15s")
	v.SetDefault("health.probe_timeout", "2s")
	v.SetDefault("health.fail_threshold", 3)

	v.SetDefault("policy.default.captcha_mode", "AUTO")
	v.SetDefault("policy.default.per_ip_limit", 10)
	v.SetDefault("policy.default.window_hours", 1)
	v.SetDefault("policy.default.profanity_enabled", true)
	v.SetDefault("policy.default.external_blocklist_enabled", false)
	v.SetDefault("policy.default.moderation_enabled", false)
}

// Load reads configuration. path may name a config file explicitly; when
// empty, fangate.yaml is searched for in ./configs and the working
// directory, and its absence is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fangate")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &cfgNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("store.backend must be memory or redis, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Store.RedisURL == "" {
		return fmt.Errorf("store.redis_url is required for the redis backend")
	}
	if len(c.Fingerprint.Secret) > 64 {
		return fmt.Errorf("fingerprint.secret must be at most 64 bytes")
	}
	switch c.Captcha.Provider {
	case "turnstile":
		if c.Captcha.Secret == "" {
			return fmt.Errorf("captcha.secret is required for the turnstile provider")
		}
	case "static":
	default:
		return fmt.Errorf("captcha.provider must be turnstile or static, got %q", c.Captcha.Provider)
	}
	if c.RateLimit.GlobalLimit <= 0 || c.RateLimit.GlobalWindow <= 0 {
		return fmt.Errorf("ratelimit.global_limit and ratelimit.global_window must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && (c.Kafka.EventsTopic == "" || c.Kafka.MessagesTopic == "") {
		return fmt.Errorf("kafka topics are required when brokers are set")
	}
	if _, err := c.Policies(); err != nil {
		return err
	}
	if _, err := c.TextRiskPolicy(); err != nil {
		return err
	}
	if _, err := c.TrustStoreConfig(); err != nil {
		return err
	}
	return nil
}

// TrustStoreConfig builds and validates the trust store settings.
func (c *Config) TrustStoreConfig() (trust.Config, error) {
	tc := trust.Config{
		DecayPerDay: c.Trust.DecayPerDay,
		TTL:         c.Trust.TTL,
		MaxFactors:  c.Trust.MaxFactors,
	}
	if len(c.Trust.Deltas) > 0 {
		tc.Deltas = make(map[trust.EventType]int, len(c.Trust.Deltas))
		for ev, d := range c.Trust.Deltas {
			tc.Deltas[trust.EventType(strings.ToLower(ev))] = d
		}
	}
	if err := tc.Validate(); err != nil {
		return trust.Config{}, fmt.Errorf("trust.deltas: %w", err)
	}
	return tc, nil
}
