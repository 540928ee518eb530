package feedtines

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the file read when no path is given.
const DefaultConfigPath = "rss-proxy-config.yaml"

// Config represents the engine configuration. It is loaded once and never
// modified afterwards, so request goroutines share it without locking.
type Config struct {
	// Port is the port the inbound listener binds to
	Port int `yaml:"port" default:"3000"`
	// Timeout bounds a single fetch attempt, in milliseconds
	Timeout int `yaml:"timeout" default:"10000"`
	// Prefix is the inbound path prefix routed to the engine
	Prefix string `yaml:"prefix" default:"/rsshub/"`
	// MaxRedirects is the longest redirect chain followed per attempt
	MaxRedirects int `yaml:"maxRedirects" default:"10"`
	// CacheMaxAge is the max-age, in seconds, sent with fetched documents
	CacheMaxAge int `yaml:"cacheMaxAge" default:"300"`
	// UserAgents are rotated over outgoing requests
	UserAgents []string `yaml:"userAgents" default:"RSS-Proxy-Server/1.0"`
	// StatInterval is the interval in seconds between dashboard updates
	StatInterval int `yaml:"statInterval" default:"2"`
	// Metrics toggles the prometheus endpoint
	Metrics *bool `yaml:"metrics"`
	// Proxy describes the intermediary used for tunneling
	Proxy ProxyConfig `yaml:"proxy"`
	// Providers are tried in order
	Providers []Provider `yaml:"providers"`
}

// ProxyConfig describes the HTTP proxy used to open CONNECT tunnels.
type ProxyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// Timeout in milliseconds; zero falls back to Config.Timeout
	Timeout int `yaml:"timeout"`
}

// ConfigError is returned when the configuration cannot be read or is invalid.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return "config " + e.Path + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig reads the YAML file at path and returns a validated Config
// with defaults applied.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: errors.Wrap(err, "reading")}
	}

	cfg, err := ParseConfig(b)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	return cfg, nil
}

// ParseConfig decodes a YAML document into a Config.
func ParseConfig(b []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing")
	}

	if err := cfg.init(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) init() error {
	setDefaultValues(c)

	if err := validate(c); err != nil {
		return err
	}

	for i := range c.Providers {
		if err := validate(&c.Providers[i]); err != nil {
			return errors.Wrapf(err, "providers[%d]", i)
		}
	}

	if c.Proxy.Host == "" || c.Proxy.Port == 0 {
		if c.Proxy.Enabled {
			return errors.New("proxy is enabled but host or port is missing")
		}
		for i, p := range c.Providers {
			if p.UseProxy != nil && *p.UseProxy {
				return errors.Errorf("providers[%d]: %s uses the proxy but host or port is missing", i, p.URL)
			}
		}
	}

	if c.Timeout <= 0 {
		return errors.Errorf("timeout must be positive, got %d", c.Timeout)
	}

	return nil
}

// enabledProviders returns providers not explicitly disabled, in order.
func (c *Config) enabledProviders() []Provider {
	var enabled []Provider
	for _, p := range c.Providers {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

func (c *Config) timeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// tunnelTimeout is the proxy timeout, falling back to the global one.
func (c *Config) tunnelTimeout() time.Duration {
	if c.Proxy.Timeout > 0 {
		return time.Duration(c.Proxy.Timeout) * time.Millisecond
	}
	return c.timeout()
}

func (c *Config) metricsEnabled() bool {
	return c.Metrics == nil || *c.Metrics
}

func (p ProxyConfig) address() string {
	if p.Host == "" {
		return ""
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}
