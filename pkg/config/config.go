package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Upstream     UpstreamConfig     `mapstructure:"upstream"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	DDoS         DDoSConfig         `mapstructure:"ddos"`
	Geo          GeoConfig          `mapstructure:"geo"`
	Threat       ThreatConfig       `mapstructure:"threat"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Identity     IdentityConfig     `mapstructure:"identity"`
}

// ServerConfig.TrustedProxies lists the peers, as IPs or CIDRs, whose
// forwarding and edge headers are honoured.
type ServerConfig struct {
	AdminPort      int      `mapstructure:"admin_port"`
	ProxyPort      int      `mapstructure:"proxy_port"`
	MetricsPort    int      `mapstructure:"metrics_port"`
	SecretKey      string   `mapstructure:"secret_key"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type MetricsConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	EnableConnections bool `mapstructure:"enable_connections"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

type UpstreamConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LimitConfig struct {
	WindowMs int64 `mapstructure:"window_ms" json:"window_ms"`
	Max      int   `mapstructure:"max" json:"max"`
}

type RuleConfig struct {
	ID       string   `mapstructure:"id" json:"id"`
	Name     string   `mapstructure:"name" json:"name"`
	WindowMs int64    `mapstructure:"window_ms" json:"window_ms"`
	Max      int      `mapstructure:"max" json:"max"`
	Paths    []string `mapstructure:"paths" json:"paths,omitempty"`
	Methods  []string `mapstructure:"methods" json:"methods,omitempty"`
	Roles    []string `mapstructure:"roles" json:"roles,omitempty"`
	APIKeys  []string `mapstructure:"api_keys" json:"api_keys,omitempty"`
	IPs      []string `mapstructure:"ips" json:"ips,omitempty"`
	Priority int      `mapstructure:"priority" json:"priority"`
	Enabled  bool     `mapstructure:"enabled" json:"enabled"`
}

type RateLimitingConfig struct {
	Enabled      bool         `mapstructure:"enabled"`
	Default      LimitConfig  `mapstructure:"default"`
	Rules        []RuleConfig `mapstructure:"rules"`
	FallbackSize int          `mapstructure:"fallback_size"`
}

type GeoBlockingConfig struct {
	Enabled          bool     `mapstructure:"enabled" json:"enabled"`
	AllowedCountries []string `mapstructure:"allowed_countries" json:"allowed_countries,omitempty"`
	BlockedCountries []string `mapstructure:"blocked_countries" json:"blocked_countries,omitempty"`
}

type ChallengesConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Types          []string `mapstructure:"types"`
	Threshold      int      `mapstructure:"threshold"`
	CaptchaSiteKey string   `mapstructure:"captcha_site_key"`
}

type DDoSConfig struct {
	Enabled                  bool              `mapstructure:"enabled"`
	MaxConcurrentConnections int               `mapstructure:"max_concurrent_connections"`
	BlacklistedIPs           []string          `mapstructure:"blacklisted_ips"`
	WhitelistedIPs           []string          `mapstructure:"whitelisted_ips"`
	GeoBlocking              GeoBlockingConfig `mapstructure:"geo_blocking"`
	Challenges               ChallengesConfig  `mapstructure:"challenges"`
}

type GeoConfig struct {
	DatabasePath       string        `mapstructure:"database_path"`
	LookupURL          string        `mapstructure:"lookup_url"`
	LookupTimeout      time.Duration `mapstructure:"lookup_timeout"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	CacheSize          int           `mapstructure:"cache_size"`
}

type ThreatConfig struct {
	AnomalyStdDevs float64 `mapstructure:"anomaly_std_devs"`
}

type MonitoringConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type APIKeyConfig struct {
	ID  string `mapstructure:"id"`
	Key string `mapstructure:"key"`
}

type IdentityConfig struct {
	APIKeys []APIKeyConfig `mapstructure:"api_keys"`
}

// Loader reads config.yaml plus environment overrides and can watch the file
// for changes.
type Loader struct {
	v        *viper.Viper
	mu       sync.Mutex
	watching bool
}

func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaultValues(v)
	return &Loader{v: v}
}

func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("config file config.yaml not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config file config.yaml: %w", err)
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := l.v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	normalize(&cfg)
	return &cfg, nil
}

// Watch calls onChange with the freshly decoded config every time the file
// changes. Decode failures are passed to onError and the old config stays.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watching {
		return
	}
	l.watching = true

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func setDefaultValues(v *viper.Viper) {
	v.SetDefault("server.admin_port", 8080)
	v.SetDefault("server.proxy_port", 8081)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("rate_limiting.enabled", true)
	v.SetDefault("rate_limiting.default.window_ms", 60000)
	v.SetDefault("rate_limiting.default.max", 60)
	v.SetDefault("rate_limiting.fallback_size", 10000)
	v.SetDefault("ddos.enabled", true)
	v.SetDefault("ddos.max_concurrent_connections", 100)
	v.SetDefault("ddos.challenges.enabled", true)
	v.SetDefault("ddos.challenges.types", []string{"jsChallenge", "captcha", "rateLimit", "block"})
	v.SetDefault("ddos.challenges.threshold", 50)
	v.SetDefault("geo.lookup_url", "https://ipapi.co/{ip}/json/")
	v.SetDefault("geo.lookup_timeout", "2s")
	v.SetDefault("geo.breaker_timeout", "30s")
	v.SetDefault("geo.breaker_max_failures", 5)
	v.SetDefault("geo.cache_size", 10000)
	v.SetDefault("threat.anomaly_std_devs", 3.0)
	v.SetDefault("monitoring.workers", 4)
	v.SetDefault("monitoring.queue_size", 1000)
}

func normalize(cfg *Config) {
	geo := &cfg.DDoS.GeoBlocking
	geo.AllowedCountries = upper(geo.AllowedCountries)
	geo.BlockedCountries = upper(geo.BlockedCountries)
	if cfg.Threat.AnomalyStdDevs <= 0 {
		cfg.Threat.AnomalyStdDevs = 3
	}
}

func upper(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
