// Package config loads the relay configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/friendrelay/presence"
	"github.com/opd-ai/friendrelay/relay"
	"github.com/opd-ai/friendrelay/store"
	"github.com/opd-ai/friendrelay/transport"
)

// DefaultListen is the address the relay listens on by default.
const DefaultListen = ":7094"

// Transport modes.
const (
	TransportTLS   = "tls"
	TransportNoise = "noise"
)

// Store drivers.
const (
	StoreFile  = "file"
	StoreRedis = "redis"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete relay configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	Transport TransportConfig `yaml:"transport"`
	Store     StoreConfig     `yaml:"store"`
	KeepAlive KeepAliveConfig `yaml:"keepalive"`
	Session   SessionConfig   `yaml:"session"`
	Admin     AdminConfig     `yaml:"admin"`
	Log       LogConfig       `yaml:"log"`
}

// TransportConfig selects and configures the connection authenticator.
type TransportConfig struct {
	Mode  string               `yaml:"mode"`
	TLS   transport.TLSOptions `yaml:"tls"`
	Noise NoiseConfig          `yaml:"noise"`
}

// NoiseConfig names the key files of the Noise transport.
type NoiseConfig struct {
	PrivateKeyFile     string `yaml:"private_key_file"`
	AuthorizedKeysFile string `yaml:"authorized_keys_file"`
}

// StoreConfig selects the snapshot backend.
type StoreConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	Format string      `yaml:"format"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis snapshot backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// KeepAliveConfig controls liveness probing.
type KeepAliveConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Threshold int           `yaml:"threshold"`
}

// SessionConfig controls per-client buffering.
type SessionConfig struct {
	OutboxSize   int           `yaml:"outbox_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AdminConfig controls the read-only HTTP endpoint. An empty Listen
// disables it.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen: DefaultListen,
		Transport: TransportConfig{
			Mode: TransportNoise,
			Noise: NoiseConfig{
				PrivateKeyFile:     "friendrelay.key",
				AuthorizedKeysFile: "authorized_keys.yaml",
			},
		},
		Store: StoreConfig{
			Driver: StoreFile,
			Path:   store.DefaultPath,
			Format: store.FormatJSON,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: store.DefaultRedisPrefix,
			},
		},
		KeepAlive: KeepAliveConfig{
			Interval:  relay.DefaultKeepAliveInterval,
			Threshold: presence.DefaultThreshold,
		},
		Session: SessionConfig{
			OutboxSize:   relay.DefaultOutboxSize,
			WriteTimeout: relay.DefaultWriteTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"path":     path,
	}).Debug("Configuration loaded")

	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var problems []string

	if c.Listen == "" {
		problems = append(problems, "listen must be set")
	}

	switch c.Transport.Mode {
	case TransportTLS:
		tls := c.Transport.TLS
		if tls.CertFile == "" || tls.KeyFile == "" || tls.ClientCAFile == "" {
			problems = append(problems, "transport.tls needs cert_file, key_file and client_ca_file")
		}
	case TransportNoise:
		noise := c.Transport.Noise
		if noise.PrivateKeyFile == "" || noise.AuthorizedKeysFile == "" {
			problems = append(problems, "transport.noise needs private_key_file and authorized_keys_file")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown transport.mode %q", c.Transport.Mode))
	}

	switch c.Store.Driver {
	case StoreFile:
		if c.Store.Format != store.FormatJSON && c.Store.Format != store.FormatCBOR {
			problems = append(problems, fmt.Sprintf("unknown store.format %q", c.Store.Format))
		}
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			problems = append(problems, "store.redis.addr must be set")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
	}

	if c.KeepAlive.Interval <= 0 {
		problems = append(problems, "keepalive.interval must be positive")
	}
	if c.KeepAlive.Threshold < 1 {
		problems = append(problems, "keepalive.threshold must be at least 1")
	}
	if c.Session.OutboxSize < 1 {
		problems = append(problems, "session.outbox_size must be at least 1")
	}
	if c.Session.WriteTimeout < 0 {
		problems = append(problems, "session.write_timeout must not be negative")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Sprintf("unknown log.level %q", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		problems = append(problems, fmt.Sprintf("unknown log.format %q", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// RelayOptions returns the session settings as relay options.
func (c *Config) RelayOptions() *relay.Options {
	opts := relay.NewOptions()
	opts.OutboxSize = c.Session.OutboxSize
	opts.WriteTimeout = c.Session.WriteTimeout
	return opts
}

// Apply configures the global logrus logger.
func (l LogConfig) Apply() error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	logrus.SetLevel(level)

	if l.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
