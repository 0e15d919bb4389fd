// Package config loads the batch definitions run by capped.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/nomis52/capexec/capped"
	"gopkg.in/yaml.v3"
)

const (
	defaultMaxPending    = "4"
	defaultMode          = "all"
	defaultTaskTimeout   = 30 * time.Second
	defaultMetricsPrefix = "capexec"
	defaultJobName       = "capped"
	defaultHTTPMethod    = "GET"

	defaultLogLevel  = "info"
	defaultLogFormat = "auto"
	defaultLogOutput = "stderr"

	redacted = "<redacted>"
)

// Config is the complete batch configuration.
type Config struct {
	Logging    LoggingConfig          `yaml:"logging"`
	Monitoring MonitoringConfig       `yaml:"monitoring"`
	Defaults   DefaultsConfig         `yaml:"defaults"`
	SSHKeys    map[string]string      `yaml:"ssh_keys"`
	Batches    map[string]BatchConfig `yaml:"batches"`
}

// LoggingConfig defines logging behavior settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// MonitoringConfig holds remote write settings used by the CLI.
type MonitoringConfig struct {
	VictoriaMetricsURL string `yaml:"victoriametrics_url"`
	MetricsPrefix      string `yaml:"metrics_prefix"`
	JobName            string `yaml:"jobname"`
}

// DefaultsConfig applies to every batch and task that does not override it.
type DefaultsConfig struct {
	MaxPending MaxPending    `yaml:"max_pending"`
	Mode       string        `yaml:"mode"`
	Timeout    time.Duration `yaml:"timeout"`
}

// BatchConfig is one named group of tasks run under a single cap.
type BatchConfig struct {
	MaxPending MaxPending   `yaml:"max_pending"`
	Mode       string       `yaml:"mode"`
	Tasks      []TaskConfig `yaml:"tasks"`
}

// TaskConfig describes one task. Exactly one of Exec, HTTP or SSH is set.
type TaskConfig struct {
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
	Exec    *ExecTask     `yaml:"exec,omitempty"`
	HTTP    *HTTPTask     `yaml:"http,omitempty"`
	SSH     *SSHTask      `yaml:"ssh,omitempty"`
}

// ExecTask runs a local command. Command is split into argv with shell
// quoting rules; no shell is involved.
type ExecTask struct {
	Command string            `yaml:"command"`
	Dir     string            `yaml:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// HTTPTask performs one HTTP request.
type HTTPTask struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty"`
	// ExpectStatus is the required status code. Zero accepts any 2xx.
	ExpectStatus int `yaml:"expect_status,omitempty"`
	// Extract is a gjson path evaluated against the response body.
	Extract string `yaml:"extract,omitempty"`
}

// SSHTask runs a command on a remote host.
type SSHTask struct {
	Host    string `yaml:"host"`
	User    string `yaml:"user"`
	Key     string `yaml:"key"`
	Command string `yaml:"command"`
}

// MaxPending is a concurrency cap as written in the config. Both
// `max_pending: 3` and `max_pending: "3"` are accepted; the text is
// validated with capped.ParseMaxPending.
type MaxPending string

// UnmarshalYAML accepts any scalar.
func (m *MaxPending) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: max_pending must be a scalar", node.Line)
	}
	*m = MaxPending(node.Value)
	return nil
}

// Int parses the cap.
func (m MaxPending) Int() (int, error) {
	return capped.ParseMaxPending(string(m))
}

// Kind names the task variant.
func (t TaskConfig) Kind() string {
	switch {
	case t.Exec != nil:
		return "exec"
	case t.HTTP != nil:
		return "http"
	case t.SSH != nil:
		return "ssh"
	default:
		return ""
	}
}

// BatchNames returns the configured batch names in sorted order.
func (c *Config) BatchNames() []string {
	return slices.Sorted(maps.Keys(c.Batches))
}

// MaxPendingFor returns the effective cap for batch.
func (c *Config) MaxPendingFor(batch string) (int, error) {
	b, ok := c.Batches[batch]
	if !ok {
		return 0, fmt.Errorf("unknown batch %q", batch)
	}
	if b.MaxPending != "" {
		return b.MaxPending.Int()
	}
	return c.Defaults.MaxPending.Int()
}

// PolicyFor returns the effective completion policy for batch.
func (c *Config) PolicyFor(batch string) (capped.Policy, error) {
	b, ok := c.Batches[batch]
	if !ok {
		return 0, fmt.Errorf("unknown batch %q", batch)
	}
	if b.Mode != "" {
		return capped.ParsePolicy(b.Mode)
	}
	return capped.ParsePolicy(c.Defaults.Mode)
}

// TimeoutFor returns the effective timeout for task.
func (c *Config) TimeoutFor(task TaskConfig) time.Duration {
	if task.Timeout > 0 {
		return task.Timeout
	}
	return c.Defaults.Timeout
}

// SetDefaults fills optional fields.
func (c *Config) SetDefaults() {
	if c.Defaults.MaxPending == "" {
		c.Defaults.MaxPending = defaultMaxPending
	}
	if c.Defaults.Mode == "" {
		c.Defaults.Mode = defaultMode
	}
	if c.Defaults.Timeout == 0 {
		c.Defaults.Timeout = defaultTaskTimeout
	}
	if c.Monitoring.MetricsPrefix == "" {
		c.Monitoring.MetricsPrefix = defaultMetricsPrefix
	}
	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = defaultLogOutput
	}
	for name, b := range c.Batches {
		for i := range b.Tasks {
			if h := b.Tasks[i].HTTP; h != nil && h.Method == "" {
				h.Method = defaultHTTPMethod
			}
		}
		c.Batches[name] = b
	}
}

// Validate checks the configuration, reporting every problem found.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Defaults.MaxPending.Int(); err != nil {
		errs = append(errs, fmt.Errorf("defaults: %w", err))
	}
	if _, err := capped.ParsePolicy(c.Defaults.Mode); err != nil {
		errs = append(errs, fmt.Errorf("defaults: %w", err))
	}
	if c.Defaults.Timeout < 0 {
		errs = append(errs, errors.New("defaults: timeout must not be negative"))
	}
	if len(c.Batches) == 0 {
		errs = append(errs, errors.New("at least one batch is required"))
	}
	for _, name := range c.BatchNames() {
		if err := c.validateBatch(name, c.Batches[name]); err != nil {
			errs = append(errs, fmt.Errorf("batch %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validateBatch(name string, b BatchConfig) error {
	if name == "" {
		return errors.New("batch name is required")
	}
	if b.MaxPending != "" {
		if _, err := b.MaxPending.Int(); err != nil {
			return err
		}
	}
	if b.Mode != "" {
		if _, err := capped.ParsePolicy(b.Mode); err != nil {
			return err
		}
	}
	if len(b.Tasks) == 0 {
		return errors.New("no tasks")
	}
	seen := make(map[string]bool, len(b.Tasks))
	for i, t := range b.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task %d: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("task %q: duplicate name", t.Name)
		}
		seen[t.Name] = true
		if err := c.validateTask(t); err != nil {
			return fmt.Errorf("task %q: %w", t.Name, err)
		}
	}
	return nil
}

func (c *Config) validateTask(t TaskConfig) error {
	kinds := 0
	for _, set := range []bool{t.Exec != nil, t.HTTP != nil, t.SSH != nil} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return errors.New("exactly one of exec, http or ssh must be set")
	}
	if t.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	switch {
	case t.Exec != nil:
		if t.Exec.Command == "" {
			return errors.New("exec: command is required")
		}
	case t.HTTP != nil:
		if t.HTTP.URL == "" {
			return errors.New("http: url is required")
		}
		if s := t.HTTP.ExpectStatus; s != 0 && (s < 100 || s > 599) {
			return fmt.Errorf("http: expect_status %d out of range", s)
		}
	case t.SSH != nil:
		if t.SSH.Host == "" || t.SSH.User == "" || t.SSH.Command == "" {
			return errors.New("ssh: host, user and command are required")
		}
		if _, ok := c.SSHKeys[t.SSH.Key]; !ok {
			return fmt.Errorf("ssh: unknown key %q", t.SSH.Key)
		}
	}
	return nil
}

// Redacted returns a deep copy safe to expose over HTTP: SSH key paths and
// HTTP header values are replaced.
func (c Config) Redacted() Config {
	out := c
	out.SSHKeys = make(map[string]string, len(c.SSHKeys))
	for name := range c.SSHKeys {
		out.SSHKeys[name] = redacted
	}
	out.Batches = make(map[string]BatchConfig, len(c.Batches))
	for name, b := range c.Batches {
		tasks := make([]TaskConfig, len(b.Tasks))
		for i, t := range b.Tasks {
			if t.HTTP != nil {
				h := *t.HTTP
				h.Headers = make(map[string]string, len(t.HTTP.Headers))
				for k := range t.HTTP.Headers {
					h.Headers[k] = redacted
				}
				t.HTTP = &h
			}
			tasks[i] = t
		}
		b.Tasks = tasks
		out.Batches[name] = b
	}
	return out
}

// Parse decodes, defaults and validates YAML config data.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads the YAML config file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

