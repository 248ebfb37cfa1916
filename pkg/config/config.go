package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/stash/pkg/types"
	"github.com/spf13/viper"
)

// Config is the process configuration for stash
type Config struct {
	DataDir        string
	Log            LogConfig
	Scheduler      SchedulerConfig
	Redis          RedisConfig
	Metrics        MetricsConfig
	Secrets        SecretsConfig
	DefaultBackend types.BackendDescriptor
	Modules        []Module
}

type LogConfig struct {
	Level string
	JSON  bool
}

type SchedulerConfig struct {
	MaxConcurrent int
}

// RedisConfig configures the shared progress cache. An empty Addr disables it.
type RedisConfig struct {
	Addr   string
	Prefix string
	TTL    time.Duration
}

type MetricsConfig struct {
	Addr string
}

// SecretsConfig holds the password backend credentials are sealed with. An
// empty Key stores them in plaintext.
type SecretsConfig struct {
	Key string
}

// Module is a named category of tenant data and the domains it is
// partitioned into. Modules are migrated in the order they are declared.
type Module struct {
	Name    string   `mapstructure:"name" yaml:"name"`
	Domains []string `mapstructure:"domains" yaml:"domains"`
}

// DefaultModules is used when the configuration file declares none
func DefaultModules() []Module {
	return []Module{
		{Name: "files", Domains: []string{"room"}},
		{Name: "mail", Domains: []string{"attach"}},
		{Name: "talk", Domains: nil},
	}
}

// Load reads configuration from path (optional), STASH_* environment
// variables and defaults, in increasing order of precedence: defaults, file, env.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetEnvPrefix("STASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", "/var/lib/stash")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("scheduler.max_concurrent", 2)
	v.SetDefault("redis.prefix", "stash:")
	v.SetDefault("redis.ttl", "24h")
	v.SetDefault("default_backend.type", types.BackendDisc)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("stash")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		_ = v.ReadInConfig() // optional: ignore not found errors
	}

	cfg := Config{
		DataDir: v.GetString("data_dir"),
		Log: LogConfig{
			Level: v.GetString("log.level"),
			JSON:  v.GetBool("log.json"),
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent: v.GetInt("scheduler.max_concurrent"),
		},
		Redis: RedisConfig{
			Addr:   v.GetString("redis.addr"),
			Prefix: v.GetString("redis.prefix"),
			TTL:    v.GetDuration("redis.ttl"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
		Secrets: SecretsConfig{
			Key: v.GetString("secrets.key"),
		},
		DefaultBackend: types.BackendDescriptor{
			Type:    v.GetString("default_backend.type"),
			Options: v.GetStringMapString("default_backend.options"),
		},
	}

	if err := v.UnmarshalKey("modules", &cfg.Modules); err != nil {
		return Config{}, fmt.Errorf("failed to parse modules: %w", err)
	}
	if len(cfg.Modules) == 0 {
		cfg.Modules = DefaultModules()
	}

	if cfg.DefaultBackend.Type == types.BackendDisc && cfg.DefaultBackend.Option("path", "") == "" {
		if cfg.DefaultBackend.Options == nil {
			cfg.DefaultBackend.Options = make(map[string]string)
		}
		cfg.DefaultBackend.Options["path"] = filepath.Join(cfg.DataDir, "storage")
	}

	if cfg.Scheduler.MaxConcurrent <= 0 {
		cfg.Scheduler.MaxConcurrent = 2
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks module declarations: names must be unique and non-empty,
// domains must be single path segments.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		if m.Name == "" {
			return fmt.Errorf("module name is required")
		}
		if strings.ContainsAny(m.Name, `/\`) {
			return fmt.Errorf("module name %q must not contain path separators", m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("module %q declared twice", m.Name)
		}
		seen[m.Name] = true

		for _, d := range m.Domains {
			if d == "" || d == "." || d == ".." || strings.ContainsAny(d, `/\`) {
				return fmt.Errorf("module %q: invalid domain %q", m.Name, d)
			}
		}
	}
	if c.DefaultBackend.Type == "" {
		return fmt.Errorf("default_backend.type is required")
	}
	return nil
}
