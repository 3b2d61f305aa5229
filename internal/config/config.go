package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"web-content-analyzer/internal/analysis"
	"web-content-analyzer/internal/crawler"
	"web-content-analyzer/internal/guard"
)

// Environment overrides applied after the file is read.
const (
	EnvConfigPath = "WCA_CONFIG"
	EnvGeminiKey  = "GEMINI_API_KEY"
	EnvGoogleKey  = "GOOGLE_API_KEY"
	EnvLogLevel   = "WCA_LOG_LEVEL"
)

type Config struct {
	Guard    guard.Config    `yaml:"guard"`
	Fetch    crawler.Config  `yaml:"fetch"`
	Analysis analysis.Config `yaml:"analysis"`
	Server   Server          `yaml:"server"`
	Batch    Batch           `yaml:"batch"`
	Log      Log             `yaml:"log"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Batch struct {
	Concurrency int `yaml:"concurrency"`
	MaxURLs     int `yaml:"max_urls"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Defaults() Config {
	return Config{
		Guard: guard.Config{Blacklist: append([]string(nil), guard.DefaultBlacklist...)},
		Fetch: crawler.DefaultConfig(),
		Analysis: analysis.Config{
			Model:    analysis.DefaultModel,
			BaseURL:  analysis.DefaultBaseURL,
			MaxChars: analysis.DefaultMaxChars,
		},
		Server: Server{Addr: ":8080"},
		Batch:  Batch{Concurrency: 4, MaxURLs: 50},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path falls back to $WCA_CONFIG;
// when both are empty only defaults and environment overrides apply.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.Analysis.APIKey == "" {
		for _, k := range []string{EnvGeminiKey, EnvGoogleKey} {
			if v := os.Getenv(k); v != "" {
				c.Analysis.APIKey = v
				break
			}
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("fetch.max_attempts must be at least 1, got %d", c.Fetch.MaxAttempts))
	}
	if c.Fetch.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("fetch.max_bytes must be positive, got %d", c.Fetch.MaxBytes))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch.timeout must be positive, got %s", c.Fetch.Timeout))
	}
	if c.Fetch.AttemptDelay < 0 || c.Fetch.RetryDelay < 0 {
		errs = append(errs, errors.New("fetch delays must not be negative"))
	}
	if c.Batch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("batch.concurrency must be at least 1, got %d", c.Batch.Concurrency))
	}
	if c.Batch.MaxURLs < 1 {
		errs = append(errs, fmt.Errorf("batch.max_urls must be at least 1, got %d", c.Batch.MaxURLs))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	// compiling the patterns is the only way to know they are valid
	if _, err := guard.New(c.Guard, nil); err != nil {
		errs = append(errs, fmt.Errorf("guard: %w", err))
	}
	return errors.Join(errs...)
}
