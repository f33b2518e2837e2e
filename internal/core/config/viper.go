package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"host":         "service.host",
	"port":         "service.port",
	"metrics-addr": "service.metrics_addr",
	"catalog-dir":  "service.catalog_dir",
	"db-url":       "database.url",
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	return LoadConfigWithFlags(configPath, nil)
}

// LoadConfigWithFlags behaves like LoadConfig and additionally binds any
// flag in flags whose name appears in flagKeys.
func LoadConfigWithFlags(configPath string, flags *pflag.FlagSet) (*ServiceConfig, error) {
	v := viper.New()

	def := DefaultServiceConfig()
	v.SetDefault("service.host", def.Host)
	v.SetDefault("service.port", def.Port)
	v.SetDefault("service.metrics_addr", def.MetricsAddr)
	v.SetDefault("service.request_timeout", def.RequestTimeout.String())
	v.SetDefault("service.max_batch_size", def.MaxBatchSize)
	v.SetDefault("service.catalog_dir", def.CatalogDir)
	v.SetDefault("service.auth_enabled", def.AuthEnabled)
	v.SetDefault("database.url", def.DatabaseURL)

	// RB_SERVICE_PORT -> service.port
	v.SetEnvPrefix("RB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &ServiceConfig{
		Host:           v.GetString("service.host"),
		Port:           v.GetInt("service.port"),
		MetricsAddr:    v.GetString("service.metrics_addr"),
		RequestTimeout: v.GetDuration("service.request_timeout"),
		MaxBatchSize:   v.GetInt("service.max_batch_size"),
		CatalogDir:     v.GetString("service.catalog_dir"),
		DatabaseURL:    v.GetString("database.url"),
		AuthEnabled:    v.GetBool("service.auth_enabled"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks port range, positive timeout and batch size.
func validateConfig(cfg *ServiceConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.RequestTimeout)
	}
	if cfg.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive, got %d", cfg.MaxBatchSize)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database.url must not be empty")
	}
	return nil
}

// validateNoSecretsInConfig keeps HMAC secrets out of config files.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("service.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use RB_HMAC_SECRET environment variable)")
	}
	return nil
}
