package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// envOverrides are applied on top of the file, highest precedence.
// Names follow envconfig convention: HTTPQ_LOG_LEVEL etc.
type envOverrides struct {
	LogLevel    string `envconfig:"LOG_LEVEL"`
	UserAgent   string `envconfig:"USER_AGENT"`
	JournalPath string `envconfig:"JOURNAL_PATH"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "httpq",
			LogLevel: "INFO",
		},
		Transport: TransportConfig{
			UserAgent: "httpq/0.1",
		},
		Queue: QueueConfig{
			Capacity: 0,
		},
		Journal: JournalConfig{
			Enabled: false,
		},
	}
}

// Load reads and parses configuration from a YAML file, expands ${ENV}
// references, applies defaults and HTTPQ_* environment overrides, and
// validates the result. An empty path returns defaults plus env overrides.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}

		data = expandEnvVars(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
		}
	}

	applyDefaults(cfg)

	var o envOverrides
	if err := envconfig.Process("httpq", &o); err != nil {
		return nil, fmt.Errorf("process env overrides: %w", err)
	}
	if o.LogLevel != "" {
		cfg.Service.LogLevel = o.LogLevel
	}
	if o.UserAgent != "" {
		cfg.Transport.UserAgent = o.UserAgent
	}
	if o.JournalPath != "" {
		cfg.Journal.Path = o.JournalPath
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} references with their environment values.
// Unset variables expand to the empty string.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envVarPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "httpq"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "INFO"
	}
	if cfg.Transport.UserAgent == "" {
		cfg.Transport.UserAgent = "httpq/0.1"
	}
}

func validate(cfg *Config) error {
	switch cfg.Service.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log_level %q (want DEBUG, INFO, WARN or ERROR)", cfg.Service.LogLevel)
	}
	if cfg.Queue.Capacity < 0 {
		return fmt.Errorf("queue capacity must be >= 0, got %d", cfg.Queue.Capacity)
	}
	if cfg.Transport.Timeout < 0 {
		return fmt.Errorf("transport timeout must be >= 0, got %s", cfg.Transport.Timeout)
	}
	if cfg.Journal.Retention < 0 {
		return fmt.Errorf("journal retention must be >= 0, got %s", cfg.Journal.Retention)
	}
	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return fmt.Errorf("journal enabled but no path configured")
	}
	return nil
}

// Dump renders the effective configuration as YAML.
func Dump(cfg *Config) (string, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}
