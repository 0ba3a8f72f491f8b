package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Scheduler    SchedulerConfig
	Outbound     OutboundConfig
	Queue        QueueConfig
	Webhooks     WebhooksConfig
	RateLimit    RateLimitConfig
	Conversation ConversationConfig
	Inquiry      InquiryConfig
}

type ServerConfig struct {
	Address string
	// TrustedProxies are the peers whose X-Forwarded-For header is believed.
	TrustedProxies []netip.Prefix
}

type LogConfig struct {
	Level  string
	Format string
}

type DatabaseConfig struct {
	Driver      string
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
}

type OutboundConfig struct {
	Provider    string
	URL         string
	Token       string
	Session     string
	CountryCode string
	ContentMax  int
}

type QueueConfig struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	StaleClaim  time.Duration
}

type ProviderAuth struct {
	Token      string
	HMACSecret string
}

func (p ProviderAuth) Enabled() bool { return p.Token != "" }

type WebhooksConfig struct {
	Gateway        ProviderAuth
	BridgeB        ProviderAuth
	BridgeC        ProviderAuth
	MaxSkew        time.Duration
	IdempotencyTTL time.Duration
}

type RateLimitConfig struct {
	IPMax       int
	IPWindow    time.Duration
	PhoneMax    int
	PhoneWindow time.Duration
}

type ConversationConfig struct {
	TTL               time.Duration
	UnknownEscalation int
	AutoOnboard       bool
	VolunteerPhones   []string
}

type InquiryConfig struct {
	URL     string
	Timeout time.Duration
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// LoadAll reads the process environment. Every missing or malformed key is reported.
func LoadAll() (*Config, error) {
	var errs []error
	str := func(key string) string {
		v, err := requireEnv(key)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	secs := func(key string, def int) time.Duration {
		return time.Duration(num(key, def)) * time.Second
	}

	autoOnboard, err := getEnvBool("ONBOARDING_AUTO_CREATE", false)
	if err != nil {
		errs = append(errs, err)
	}

	proxies, err := parsePrefixes("TRUSTED_PROXIES", splitList(os.Getenv("TRUSTED_PROXIES")))
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address:        getEnv("SERVER_ADDRESS", ":8080"),
			TrustedProxies: proxies,
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			Driver: getEnv("STORE_DRIVER", DriverPostgres),
		},
		Outbound: OutboundConfig{
			Provider:    getEnv("OUTBOUND_PROVIDER", "gateway"),
			URL:         str("OUTBOUND_URL"),
			Token:       os.Getenv("OUTBOUND_TOKEN"),
			Session:     getEnv("OUTBOUND_SESSION", "default"),
			CountryCode: getEnv("OUTBOUND_COUNTRY_CODE", "62"),
			ContentMax:  num("CONTENT_MAX", 1000),
		},
		Scheduler: SchedulerConfig{
			Interval:  secs("SCHED_INTERVAL_SECONDS", 5),
			BatchSize: num("SCHED_BATCH_SIZE", 10),
		},
		Queue: QueueConfig{
			MaxRetries:  num("QUEUE_MAX_RETRIES", 3),
			BackoffBase: secs("QUEUE_BACKOFF_BASE_SECONDS", 30),
			BackoffMax:  secs("QUEUE_BACKOFF_MAX_SECONDS", 1800),
			StaleClaim:  secs("QUEUE_STALE_CLAIM_SECONDS", 300),
		},
		Webhooks: WebhooksConfig{
			Gateway: ProviderAuth{
				Token:      os.Getenv("GATEWAY_TOKEN"),
				HMACSecret: os.Getenv("GATEWAY_HMAC_SECRET"),
			},
			BridgeB: ProviderAuth{
				Token:      os.Getenv("BRIDGE_B_TOKEN"),
				HMACSecret: os.Getenv("BRIDGE_B_HMAC_SECRET"),
			},
			BridgeC: ProviderAuth{
				Token:      os.Getenv("BRIDGE_C_TOKEN"),
				HMACSecret: os.Getenv("BRIDGE_C_HMAC_SECRET"),
			},
			MaxSkew:        secs("WEBHOOK_MAX_SKEW_SECONDS", 300),
			IdempotencyTTL: secs("IDEMPOTENCY_TTL_SECONDS", 86400),
		},
		RateLimit: RateLimitConfig{
			IPMax:       num("RATE_LIMIT_IP_MAX", 120),
			IPWindow:    secs("RATE_LIMIT_IP_WINDOW_SECONDS", 60),
			PhoneMax:    num("RATE_LIMIT_PHONE_MAX", 10),
			PhoneWindow: secs("RATE_LIMIT_PHONE_WINDOW_SECONDS", 60),
		},
		Conversation: ConversationConfig{
			TTL:               time.Duration(num("CONVERSATION_TTL_MINUTES", 1440)) * time.Minute,
			UnknownEscalation: num("UNKNOWN_ESCALATION_THRESHOLD", 3),
			AutoOnboard:       autoOnboard,
			VolunteerPhones:   splitList(os.Getenv("VOLUNTEER_PHONES")),
		},
		Inquiry: InquiryConfig{
			URL:     os.Getenv("INQUIRY_URL"),
			Timeout: secs("INQUIRY_TIMEOUT_SECONDS", 8),
		},
		Redis: loadRedisConfig(num),
	}

	if cfg.Database.Driver == DriverPostgres {
		cfg.Database.PostgresURL = str("POSTGRES_URL")
	}

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig(num func(string, int) int) RedisConfig {
	ttl := time.Duration(num("REDIS_TTL_SECONDS", 86400)) * time.Second

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false, TTL: ttl}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       num("REDIS_DB", 0),
		TTL:      ttl,
	}
}

func validate(cfg *Config) error {
	switch {
	case cfg.Database.Driver != DriverPostgres && cfg.Database.Driver != DriverMemory:
		return fmt.Errorf("STORE_DRIVER must be %q or %q", DriverPostgres, DriverMemory)
	case cfg.Scheduler.BatchSize <= 0:
		return errors.New("SCHED_BATCH_SIZE must be > 0")
	case cfg.Scheduler.Interval <= 0:
		return errors.New("SCHED_INTERVAL_SECONDS must be > 0")
	case cfg.Outbound.ContentMax <= 0:
		return errors.New("CONTENT_MAX must be > 0")
	case cfg.Queue.MaxRetries <= 0:
		return errors.New("QUEUE_MAX_RETRIES must be > 0")
	case cfg.Queue.BackoffBase <= 0 || cfg.Queue.BackoffMax < cfg.Queue.BackoffBase:
		return errors.New("QUEUE_BACKOFF_BASE_SECONDS must be > 0 and <= QUEUE_BACKOFF_MAX_SECONDS")
	case cfg.RateLimit.IPMax <= 0 || cfg.RateLimit.IPWindow <= 0:
		return errors.New("RATE_LIMIT_IP_MAX and RATE_LIMIT_IP_WINDOW_SECONDS must be > 0")
	case cfg.RateLimit.PhoneMax <= 0 || cfg.RateLimit.PhoneWindow <= 0:
		return errors.New("RATE_LIMIT_PHONE_MAX and RATE_LIMIT_PHONE_WINDOW_SECONDS must be > 0")
	case cfg.Webhooks.IdempotencyTTL <= 0:
		return errors.New("IDEMPOTENCY_TTL_SECONDS must be > 0")
	case cfg.Conversation.TTL <= 0:
		return errors.New("CONVERSATION_TTL_MINUTES must be > 0")
	case cfg.Conversation.UnknownEscalation <= 0:
		return errors.New("UNKNOWN_ESCALATION_THRESHOLD must be > 0")
	}

	if !cfg.Webhooks.Gateway.Enabled() && !cfg.Webhooks.BridgeB.Enabled() && !cfg.Webhooks.BridgeC.Enabled() {
		return errors.New("at least one of GATEWAY_TOKEN, BRIDGE_B_TOKEN, BRIDGE_C_TOKEN must be set")
	}
	return nil
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// parsePrefixes accepts CIDRs and bare addresses; a bare address is a single-host prefix.
func parsePrefixes(key string, raw []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range raw {
		if p, err := netip.ParsePrefix(v); err == nil {
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid address or CIDR for env %s: %s", key, v)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
