// Package config holds the runtime configuration of the capped server.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/nomis52/capexec/logging"
	"github.com/nomis52/capexec/server/cron"
	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr  = ":8080"
	defaultLogLevel    = "info"
	defaultHistorySize = 100
)

// ServerConfig is the server runtime configuration.
type ServerConfig struct {
	Listener ListenerConfig `yaml:"listener"`
	// Cron lists scheduled runs.
	Cron []cron.TriggerSpec `yaml:"cron"`
	// StateDir stores run history. History is kept in memory when empty.
	StateDir string `yaml:"state_dir"`
	LogLevel string `yaml:"log_level"`
	// BatchConfig is the path of the batch definitions file.
	BatchConfig string `yaml:"batch_config"`
	// HistorySize is the number of completed runs kept.
	HistorySize int `yaml:"history_size"`
}

// ListenerConfig holds HTTP listener settings.
type ListenerConfig struct {
	Addr string `yaml:"addr"`
	// TLSCert and TLSKey enable HTTPS. The pair is re-read when the files change.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// TLS reports whether the listener serves HTTPS.
func (l ListenerConfig) TLS() bool {
	return l.TLSCert != ""
}

// LoadConfig reads the YAML config file at path.
func LoadConfig(path string) (*ServerConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open server config file %s: %w", path, err)
	}
	defer f.Close()

	var cfg ServerConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode YAML server config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults fills optional fields.
func (c *ServerConfig) SetDefaults() {
	if c.Listener.Addr == "" {
		c.Listener.Addr = defaultListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.HistorySize == 0 {
		c.HistorySize = defaultHistorySize
	}
}

// Validate checks the configuration. Batch names in cron entries are
// checked against the batch config when the server loads it.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.BatchConfig == "" {
		errs = append(errs, errors.New("batch_config is required"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if (c.Listener.TLSCert == "") != (c.Listener.TLSKey == "") {
		errs = append(errs, errors.New("listener: tls_cert and tls_key must be set together"))
	}
	if c.HistorySize < 0 {
		errs = append(errs, errors.New("history_size must not be negative"))
	}
	for i, t := range c.Cron {
		if err := t.Validate(nil); err != nil {
			errs = append(errs, fmt.Errorf("cron[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
