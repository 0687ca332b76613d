package xevent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file form of a bus configuration.
//
//	workers: 8
//	ordering: priority
//	handler_timeout: 2s
//	retry:
//	  max_attempts: 3
//	  backoff: 100ms
//	sinks:
//	  - name: memory
//	    options:
//	      capacity: 512
type Config struct {
	Workers         int           `yaml:"workers"`
	Ordering        string        `yaml:"ordering"`
	ObserverWorkers int           `yaml:"observer_workers"`
	ObserverBuffer  int           `yaml:"observer_buffer"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	Retry           RetrySettings `yaml:"retry"`
	SinkTimeout     time.Duration `yaml:"sink_timeout"`
	Codec           string        `yaml:"codec"`
	Sinks           []SinkConfig  `yaml:"sinks"`
}

type RetrySettings struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	Jitter      time.Duration `yaml:"jitter"`
}

// SinkConfig names a registered sink and the options passed to its factory.
type SinkConfig struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options"`
}

// Validate enforces invariants. Zero values mean "use the default".
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("xevent: workers must be >= 0, got %d", c.Workers)
	}
	if _, err := ParseOrdering(c.Ordering); err != nil {
		return err
	}
	if c.ObserverWorkers < 0 || c.ObserverBuffer < 0 {
		return fmt.Errorf("xevent: observer pool sizes must be >= 0")
	}
	if c.HandlerTimeout < 0 || c.SinkTimeout < 0 {
		return fmt.Errorf("xevent: timeouts must be >= 0")
	}
	if c.Retry.MaxAttempts < 0 || c.Retry.Backoff < 0 || c.Retry.Jitter < 0 {
		return fmt.Errorf("xevent: retry settings must be >= 0")
	}
	for i, s := range c.Sinks {
		if s.Name == "" {
			return fmt.Errorf("xevent: sinks[%d]: name is required", i)
		}
	}
	return nil
}

// ParseConfig decodes a YAML document into a validated Config.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("xevent: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("xevent: load config: %w", err)
	}
	return ParseConfig(data)
}
