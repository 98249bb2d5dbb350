package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultListenAddr     = "localhost:3001"
	defaultServerURL      = "http://localhost:3001"
	defaultOrigin         = "http://localhost:3000"
	defaultHistoryLimit   = 256
	defaultVerifyTimeout  = 5 * time.Minute
	defaultRequestTimeout = 10 * time.Second
	defaultSessionTTL     = 2 * time.Hour
	defaultLogLevel       = "info"

	// ServerKeyEnv overrides Server.Secret when set.
	ServerKeyEnv = "SERVER_KEY"
)

type (
	Config struct {
		Server  Server
		Client  Client
		Redis   Redis
		Mongo   Mongo
		Logging Logging
	}

	Server struct {
		ListenAddr    string
		Secret        string
		HistoryLimit  int
		VerifyTimeout Duration
	}

	Client struct {
		ServerURL      string
		Origin         string
		RequestTimeout Duration
		SessionTTL     Duration
	}

	// Redis is optional. An empty Addr selects the in-memory stores.
	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	// Mongo is optional. An empty URI selects the in-memory member repo.
	Mongo struct {
		URI      string
		Database string
	}

	Logging struct {
		Level       string
		Development bool
	}

	// Duration decodes TOML strings like "5m" or "10s".
	Duration struct {
		time.Duration
	}
)

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns a config usable for a single machine setup.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load parses a TOML document, applies defaults and validates it.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: nil buffer")
	}

	cfg := &Config{}
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: unknown keys %v", undecoded)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads the config at path. An empty path yields Default().
func LoadFile(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// ServerSecret returns the wrapping master secret, preferring the environment.
func (c *Config) ServerSecret() string {
	if v := os.Getenv(ServerKeyEnv); v != "" {
		return v
	}
	return c.Server.Secret
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaultListenAddr
	}
	if c.Server.HistoryLimit == 0 {
		c.Server.HistoryLimit = defaultHistoryLimit
	}
	if c.Server.VerifyTimeout.Duration == 0 {
		c.Server.VerifyTimeout.Duration = defaultVerifyTimeout
	}
	if c.Client.ServerURL == "" {
		c.Client.ServerURL = defaultServerURL
	}
	if c.Client.Origin == "" {
		c.Client.Origin = defaultOrigin
	}
	if c.Client.RequestTimeout.Duration == 0 {
		c.Client.RequestTimeout.Duration = defaultRequestTimeout
	}
	if c.Client.SessionTTL.Duration == 0 {
		c.Client.SessionTTL.Duration = defaultSessionTTL
	}
	if c.Mongo.URI != "" && c.Mongo.Database == "" {
		c.Mongo.Database = "roomchat"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) validate() error {
	if c.Server.HistoryLimit < 0 {
		return fmt.Errorf("config: Server.HistoryLimit must not be negative, got %d", c.Server.HistoryLimit)
	}
	if c.Server.VerifyTimeout.Duration < 0 {
		return errors.New("config: Server.VerifyTimeout must not be negative")
	}
	for name, raw := range map[string]string{
		"Client.ServerURL": c.Client.ServerURL,
		"Client.Origin":    c.Client.Origin,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("config: %s must be an http(s) URL, got %q", name, raw)
		}
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: Redis.DB must not be negative, got %d", c.Redis.DB)
	}
	return nil
}
