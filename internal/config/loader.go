package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/speechsocket/pkg/recognize"
)

// envRef matches ${NAME} references.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadEnv loads a dotenv file into the process environment without
// overriding variables that are already set. An empty path loads ".env" if
// it exists.
func LoadEnv(path string) error {
	if path == "" {
		err := godotenv.Load()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("config: load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load env file %q: %w", path, err)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := expandEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Service.HandshakeTimeout == 0 {
		cfg.Service.HandshakeTimeout = recognize.HandshakeTimeout
	}
	if cfg.Batch.Concurrency == 0 {
		cfg.Batch.Concurrency = 1
	}
	if cfg.Batch.MaxFailures == 0 {
		cfg.Batch.MaxFailures = 5
	}
	if cfg.Batch.ResetTimeout == 0 {
		cfg.Batch.ResetTimeout = 30 * time.Second
	}
}

// expandEnv replaces ${NAME} in the endpoint, header values and the DSN.
// Unset variables are reported together.
func expandEnv(cfg *Config) error {
	var missing []error
	expand := func(field, s string) string {
		return envRef.ReplaceAllStringFunc(s, func(ref string) string {
			name := envRef.FindStringSubmatch(ref)[1]
			v, ok := os.LookupEnv(name)
			if !ok {
				missing = append(missing, fmt.Errorf("%s references unset environment variable %s", field, name))
			}
			return v
		})
	}

	cfg.Service.Endpoint = expand("service.endpoint", cfg.Service.Endpoint)
	for k, v := range cfg.Service.Headers {
		cfg.Service.Headers[k] = expand("service.headers."+k, v)
	}
	cfg.Storage.PostgresDSN = expand("storage.postgres_dsn", cfg.Storage.PostgresDSN)

	if len(missing) > 0 {
		return fmt.Errorf("config: %w", errors.Join(missing...))
	}
	return nil
}

// Validate checks cfg and returns all problems joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Service.Endpoint == "" {
		errs = append(errs, errors.New("service.endpoint is required"))
	} else if u, err := url.Parse(cfg.Service.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("service.endpoint: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("service.endpoint scheme %q is invalid; valid values: ws, wss", u.Scheme))
	}
	if cfg.Service.HandshakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("service.handshake_timeout %v must not be negative", cfg.Service.HandshakeTimeout))
	}

	if err := cfg.Recognize.Validate(); err != nil {
		errs = append(errs, err)
	}

	if cfg.Batch.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("batch.concurrency %d must not be negative", cfg.Batch.Concurrency))
	}
	if cfg.Batch.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("batch.max_failures %d must not be negative", cfg.Batch.MaxFailures))
	}
	if cfg.Batch.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("batch.reset_timeout %v must not be negative", cfg.Batch.ResetTimeout))
	}

	if cfg.Storage.PostgresDSN != "" {
		if _, err := url.Parse(cfg.Storage.PostgresDSN); err != nil {
			errs = append(errs, fmt.Errorf("storage.postgres_dsn: %w", err))
		}
	}

	return errors.Join(errs...)
}
