package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"

	"wafproxy/internal/domain"
)

// Config はアプリケーション全体の設定を表す.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	TLS       TLSConfig       `mapstructure:"tls"`
	Rules     RulesConfig     `mapstructure:"rules"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig はリスナーと拒否応答の設定.
type ServerConfig struct {
	HTTPListen    string `mapstructure:"http_listen"`
	HTTPSListen   string `mapstructure:"https_listen"`
	MetricsListen string `mapstructure:"metrics_listen"`
	BlockStatus   int    `mapstructure:"block_status"`
}

// UpstreamConfig は転送先の設定.
type UpstreamConfig struct {
	URL string `mapstructure:"url"`
}

// TLSConfig は証明書ストアとmTLSの設定.
type TLSConfig struct {
	CertsDir     string `mapstructure:"certs_dir"`
	ClientCAFile string `mapstructure:"client_ca_file"`
	MTLS         bool   `mapstructure:"mtls"`
}

// RulesConfig はルール文書と再読み込みの設定.
type RulesConfig struct {
	Path             string        `mapstructure:"path"`
	ReloadInterval   time.Duration `mapstructure:"reload_interval"`
	MaxBodyScanBytes int64         `mapstructure:"max_body_scan_bytes"`
}

// RateLimitConfig はクライアント単位の流量制御の設定.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"`
	Burst   int     `mapstructure:"burst"`
}

// LogConfig はログ出力の設定.
type LogConfig struct {
	Dir   string `mapstructure:"dir"`
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// Load は設定ファイルを読み込む. ファイルが存在しない場合は
// デフォルト値のみで構成する.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &domain.ConfigError{Op: "config read", Path: path, Err: err}
		}
	} else if !os.IsNotExist(err) {
		return nil, &domain.ConfigError{Op: "config stat", Path: path, Err: err}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &domain.ConfigError{Op: "config unmarshal", Path: path, Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_listen", ":8080")
	v.SetDefault("server.https_listen", ":8443")
	v.SetDefault("server.metrics_listen", ":9100")
	v.SetDefault("server.block_status", 403)
	v.SetDefault("tls.certs_dir", "./certs")
	v.SetDefault("tls.client_ca_file", "./certs/ca/ca.pem")
	v.SetDefault("tls.mtls", true)
	v.SetDefault("rules.path", "./configs/rules.yaml")
	v.SetDefault("rules.reload_interval", "3s")
	v.SetDefault("rules.max_body_scan_bytes", 64*1024)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rate", 50.0)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("log.dir", "./logs")
	v.SetDefault("log.file", "wafproxy.log")
	v.SetDefault("log.level", "info")
}

// Validate は設定値の整合性を検証する.
func (c *Config) Validate() error {
	fail := func(op string, err error) error {
		return &domain.ConfigError{Op: op, Err: err}
	}

	if c.Upstream.URL == "" {
		return fail("upstream", fmt.Errorf("upstream.url is required"))
	}
	if _, err := c.UpstreamURL(); err != nil {
		return fail("upstream", err)
	}

	if c.Server.BlockStatus < 100 || c.Server.BlockStatus > 599 {
		return fail("server", fmt.Errorf("block_status %d is not a valid HTTP status", c.Server.BlockStatus))
	}

	if c.Rules.ReloadInterval <= 0 {
		return fail("rules", fmt.Errorf("reload_interval must be positive"))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0 {
			return fail("rate_limit", fmt.Errorf("rate and burst must be positive"))
		}
	}

	return nil
}

// UpstreamURL は転送先URLを解析して返す.
func (c *Config) UpstreamURL() (*url.URL, error) {
	u, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url %q: %w", c.Upstream.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q must use http or https", c.Upstream.URL)
	}
	return u, nil
}
