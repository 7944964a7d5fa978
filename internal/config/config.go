// Package config defines the configuration schema of speechsocket and loads
// it from YAML.
package config

import (
	"time"

	"github.com/MrWong99/speechsocket/pkg/recognize"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Service   ServiceConfig     `yaml:"service"`
	Recognize recognize.Options `yaml:"recognize"`
	Batch     BatchConfig       `yaml:"batch"`
	Storage   StorageConfig     `yaml:"storage"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// StatusAddr is the listen address of the health and metrics server,
	// e.g. ":9090". Empty disables the status server.
	StatusAddr string `yaml:"status_addr"`
}

// ServiceConfig locates the recognition service.
type ServiceConfig struct {
	// Endpoint is the ws:// or wss:// URL of the recognize endpoint,
	// including query parameters such as the model.
	Endpoint string `yaml:"endpoint"`

	// Headers are sent with the opening handshake. Values may reference
	// environment variables as ${NAME}.
	Headers map[string]string `yaml:"headers"`

	// HandshakeTimeout bounds the opening and closing handshakes.
	// Default: 6s.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// BatchConfig controls how many files are transcribed at once and when to
// stop dialing a failing service.
type BatchConfig struct {
	// Concurrency is the number of sessions streaming at the same time.
	// Default: 1.
	Concurrency int `yaml:"concurrency"`

	// MaxFailures consecutive transport failures open the circuit breaker.
	// Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// StorageConfig selects where final hypotheses are persisted.
type StorageConfig struct {
	// PostgresDSN enables the PostgreSQL store. Empty keeps results in
	// memory for the lifetime of the process.
	PostgresDSN string `yaml:"postgres_dsn"`
}
