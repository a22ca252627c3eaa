package core

import (
	"fmt"
	"strings"
	"time"
)

type ReconcileConfig struct {
	MaxPages       int           `koanf:"max_pages" mapstructure:"max_pages"`
	PageTimeout    time.Duration `koanf:"page_timeout" mapstructure:"page_timeout"`
	TotalTimeout   time.Duration `koanf:"total_timeout" mapstructure:"total_timeout"`
	SplitWatermark bool          `koanf:"split_watermark" mapstructure:"split_watermark"`
}

type HTTPConfig struct {
	MaxBodyBytes int64 `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type SecretsConfig struct {
	CacheTTL time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Reconcile   ReconcileConfig `koanf:"reconcile" mapstructure:"reconcile"`
	HTTP        HTTPConfig      `koanf:"http" mapstructure:"http"`
	Secrets     SecretsConfig   `koanf:"secrets" mapstructure:"secrets"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "webhooks",
		Reconcile: ReconcileConfig{
			MaxPages:     50,
			PageTimeout:  15 * time.Second,
			TotalTimeout: 60 * time.Second,
		},
		HTTP: HTTPConfig{
			MaxBodyBytes: 1 << 20,
		},
		Secrets: SecretsConfig{
			CacheTTL: time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Reconcile.MaxPages <= 0 {
		return fmt.Errorf("core: reconcile.max_pages must be positive")
	}
	if c.Reconcile.PageTimeout <= 0 || c.Reconcile.TotalTimeout <= 0 {
		return fmt.Errorf("core: reconcile timeouts must be positive")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("core: http.max_body_bytes must be positive")
	}
	return nil
}
