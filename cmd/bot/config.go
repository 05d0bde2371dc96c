package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/options_cycle_trader/internal/infrastructure/broker"
	"github.com/vitos/options_cycle_trader/internal/infrastructure/feed"
	"github.com/vitos/options_cycle_trader/internal/usecase"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker struct {
		Mode           string  `yaml:"mode"` // kite, paper or empty for kite-when-credentials-exist
		APIKey         string  `yaml:"api_key"`
		AccessToken    string  `yaml:"access_token"`
		BaseURL        string  `yaml:"base_url"`
		Exchange       string  `yaml:"exchange"`
		Product        string  `yaml:"product"`
		TickSize       float64 `yaml:"tick_size"`
		TimeoutMs      int     `yaml:"timeout_ms"`
		PollIntervalMs int     `yaml:"poll_interval_ms"`
		MaxPolls       int     `yaml:"max_polls"`
	} `yaml:"broker"`
	Feed struct {
		URL             string   `yaml:"url"`
		Tokens          []uint32 `yaml:"tokens"`
		ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
		PingIntervalSec int      `yaml:"ping_interval_sec"`
	} `yaml:"feed"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level    string `yaml:"level"`
		Encoding string `yaml:"encoding"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
	Engine struct {
		QueueLength int `yaml:"queue_length"`
	} `yaml:"engine"`
	Sessions []SessionEntry `yaml:"sessions"`
}

// SessionEntry is one configured session. Params, when present, override
// individual fields of the strategy profile.
type SessionEntry struct {
	ID             string    `yaml:"id"`
	Strategy       string    `yaml:"strategy"`
	LiveCycleLimit int       `yaml:"live_cycle_limit"`
	Params         yaml.Node `yaml:"params"`
}

func (e SessionEntry) SessionConfig() (usecase.SessionConfig, error) {
	cfg := usecase.SessionConfig{ID: e.ID, Strategy: e.Strategy, LiveCycleLimit: e.LiveCycleLimit}
	if e.Params.Kind == 0 {
		return cfg, nil
	}
	p, err := usecase.Profile(e.Strategy)
	if err != nil {
		return cfg, err
	}
	if err := e.Params.Decode(&p); err != nil {
		return cfg, fmt.Errorf("session %q params: %w", e.ID, err)
	}
	cfg.Params = &p
	return cfg, nil
}

func loadConfig(path string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}
	if v := os.Getenv("BROKER_ACCESS_TOKEN"); v != "" {
		c.Broker.AccessToken = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Broker.Mode == "" {
		c.Broker.Mode = "paper"
		if c.Broker.APIKey != "" && c.Broker.AccessToken != "" {
			c.Broker.Mode = "kite"
		}
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "options.db"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Broker.Mode {
	case "paper":
	case "kite":
		if c.Broker.APIKey == "" || c.Broker.AccessToken == "" {
			errs = append(errs, errors.New("broker: kite mode needs api_key and access_token"))
		}
	default:
		errs = append(errs, fmt.Errorf("broker: unknown mode %q", c.Broker.Mode))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server: invalid port %d", c.Server.Port))
	}
	if c.Feed.URL != "" && len(c.Feed.Tokens) == 0 {
		errs = append(errs, errors.New("feed: url set but no tokens to subscribe"))
	}

	seen := make(map[string]bool)
	for i, s := range c.Sessions {
		if s.ID != "" {
			if seen[s.ID] {
				errs = append(errs, fmt.Errorf("sessions[%d]: duplicate id %q", i, s.ID))
			}
			seen[s.ID] = true
		}
		sc, err := s.SessionConfig()
		if err != nil {
			errs = append(errs, fmt.Errorf("sessions[%d]: %w", i, err))
			continue
		}
		params := sc.Params
		if params == nil {
			p, err := usecase.Profile(s.Strategy)
			if err != nil {
				errs = append(errs, fmt.Errorf("sessions[%d]: %w", i, err))
				continue
			}
			params = &p
		}
		if err := params.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sessions[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) KiteConfig() broker.KiteConfig {
	return broker.KiteConfig{
		APIKey:      c.Broker.APIKey,
		AccessToken: c.Broker.AccessToken,
		BaseURL:     c.Broker.BaseURL,
		Exchange:    c.Broker.Exchange,
		Product:     c.Broker.Product,
		TickSize:    c.Broker.TickSize,
		Timeout:     time.Duration(c.Broker.TimeoutMs) * time.Millisecond,
	}
}

func (c *Config) GatewayConfig() usecase.GatewayConfig {
	return usecase.GatewayConfig{
		PollInterval: time.Duration(c.Broker.PollIntervalMs) * time.Millisecond,
		MaxPolls:     c.Broker.MaxPolls,
	}
}

func (c *Config) FeedConfig() feed.Config {
	return feed.Config{
		URL:          c.Feed.URL,
		APIKey:       c.Broker.APIKey,
		AccessToken:  c.Broker.AccessToken,
		Tokens:       c.Feed.Tokens,
		ReadTimeout:  time.Duration(c.Feed.ReadTimeoutSec) * time.Second,
		PingInterval: time.Duration(c.Feed.PingIntervalSec) * time.Second,
	}
}
