package config

import "time"

// Config represents the complete httpq configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Transport TransportConfig `yaml:"transport"`
	Queue     QueueConfig     `yaml:"queue"`
	Journal   JournalConfig   `yaml:"journal,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// TransportConfig defines settings passed through to the underlying
// http.Client. The dispatcher itself enforces no timeouts; Timeout is a
// platform-level client setting.
type TransportConfig struct {
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// QueueConfig defines pending-queue settings.
type QueueConfig struct {
	// Capacity bounds the number of waiting tasks. 0 means unbounded.
	Capacity int `yaml:"capacity"`
}

// JournalConfig defines the completed-fetch journal settings.
type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path,omitempty"`
	Retention time.Duration `yaml:"retention,omitempty"`
}
