package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid config")

const (
	EngineNative  = "native"
	EngineGoproxy = "goproxy"
)

type MITMConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

type ProxyConfig struct {
	Listen  string        `yaml:"listen"`
	Engine  string        `yaml:"engine"` // native, goproxy
	Timeout time.Duration `yaml:"timeout"`
	MITM    MITMConfig    `yaml:"mitm"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
	File   string `yaml:"file"`
}

type Config struct {
	Proxy ProxyConfig `yaml:"proxy"`
	Admin AdminConfig `yaml:"admin"`
	Log   LogConfig   `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Listen:  ":8080",
			Engine:  EngineNative,
			Timeout: 30 * time.Second,
			MITM: MITMConfig{
				Cert: "certs/rootCA.pem",
				Key:  "certs/rootCA.key",
			},
		},
		Admin: AdminConfig{
			Enabled: true,
			Listen:  ":9090",
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path on top of the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	conf := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, conf); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	conf.applyEnv()
	conf.Normalize()

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (c *Config) applyEnv() {
	c.Proxy.Listen = getenv("YEET_PROXY_LISTEN", c.Proxy.Listen)
	c.Proxy.Engine = getenv("YEET_PROXY_ENGINE", c.Proxy.Engine)
	c.Admin.Listen = getenv("YEET_ADMIN_LISTEN", c.Admin.Listen)
	c.Log.Level = getenv("YEET_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenv("YEET_LOG_FORMAT", c.Log.Format)
	c.Log.File = getenv("YEET_LOG_FILE", c.Log.File)
}

// Normalize trims and lower-cases enum fields and fills empty ones.
func (c *Config) Normalize() {
	c.Proxy.Engine = strings.ToLower(strings.TrimSpace(c.Proxy.Engine))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Proxy.Engine == "" {
		c.Proxy.Engine = EngineNative
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate checks fields that have no usable fallback.
func (c *Config) Validate() error {
	if c.Proxy.Listen == "" {
		return fmt.Errorf("%w: proxy.listen is required", ErrInvalid)
	}
	switch c.Proxy.Engine {
	case EngineNative, EngineGoproxy:
	default:
		return fmt.Errorf("%w: unknown proxy.engine %q", ErrInvalid, c.Proxy.Engine)
	}
	if c.Proxy.Timeout <= 0 {
		return fmt.Errorf("%w: proxy.timeout must be positive", ErrInvalid)
	}
	if c.Proxy.MITM.Enabled {
		if c.Proxy.MITM.Cert == "" || c.Proxy.MITM.Key == "" {
			return fmt.Errorf("%w: proxy.mitm.cert and proxy.mitm.key are required", ErrInvalid)
		}
	}
	if c.Admin.Enabled && c.Admin.Listen == "" {
		return fmt.Errorf("%w: admin.listen is required when admin is enabled", ErrInvalid)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log.level %q", ErrInvalid, c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}
