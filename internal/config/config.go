package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the session-server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Function FunctionConfig `yaml:"function"`
	Session  SessionConfig  `yaml:"session"`
	Events   EventsConfig   `yaml:"events"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// FunctionConfig holds rule-evaluation boundary configuration.
type FunctionConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	AuthToken    string        `yaml:"auth_token,omitempty"`
	AuthTokenEnv string        `yaml:"auth_token_env,omitempty"`
}

// SessionConfig holds session store configuration.
type SessionConfig struct {
	Lease         time.Duration `yaml:"lease"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// EventsConfig holds event publisher configuration.
type EventsConfig struct {
	BufferSize     int           `yaml:"buffer_size"`
	EnqueueRetries int           `yaml:"enqueue_retries"`
	EnqueueWait    time.Duration `yaml:"enqueue_wait"`
	DeliverRetries int           `yaml:"deliver_retries"`
}

// NotifyConfig holds notification dispatcher configuration.
type NotifyConfig struct {
	DatabasePath  string               `yaml:"database_path"`
	Channels      []ChannelConfig      `yaml:"channels"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions,omitempty"`
}

// ChannelConfig holds one notification channel's configuration.
type ChannelConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // "webhook" or "inapp"
	URL         string        `yaml:"url,omitempty"`
	QueueSize   int           `yaml:"queue_size"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// SubscriptionConfig maps a user to a channel at startup.
type SubscriptionConfig struct {
	UserID  string `yaml:"user_id"`
	Channel string `yaml:"channel"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Resolve the rule-engine token from the environment.
	if config.Function.AuthTokenEnv != "" {
		config.Function.AuthToken = os.Getenv(config.Function.AuthTokenEnv)
	}

	config.SetDefaults()

	return &config, nil
}

// SetDefaults sets default values for configuration.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Function.CallTimeout == 0 {
		c.Function.CallTimeout = 10 * time.Second
	}
	if c.Function.MaxAttempts == 0 {
		c.Function.MaxAttempts = 3
	}
	if c.Function.BaseDelay == 0 {
		c.Function.BaseDelay = 100 * time.Millisecond
	}
	if c.Function.MaxDelay == 0 {
		c.Function.MaxDelay = 2 * time.Second
	}

	if c.Session.Lease == 0 {
		c.Session.Lease = 30 * time.Minute
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = time.Minute
	}

	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = 256
	}
	if c.Events.EnqueueRetries == 0 {
		c.Events.EnqueueRetries = 3
	}
	if c.Events.EnqueueWait == 0 {
		c.Events.EnqueueWait = 50 * time.Millisecond
	}
	if c.Events.DeliverRetries == 0 {
		c.Events.DeliverRetries = 2
	}

	if c.Notify.DatabasePath == "" {
		c.Notify.DatabasePath = "notifications.db"
	}
	for i := range c.Notify.Channels {
		ch := &c.Notify.Channels[i]
		if ch.QueueSize == 0 {
			ch.QueueSize = 64
		}
		if ch.MaxAttempts == 0 {
			ch.MaxAttempts = 3
		}
		if ch.RetryDelay == 0 {
			ch.RetryDelay = 200 * time.Millisecond
		}
		if ch.SendTimeout == 0 {
			ch.SendTimeout = 5 * time.Second
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Function.Endpoint == "" {
		return fmt.Errorf("function.endpoint is required")
	}

	for _, ch := range c.Notify.Channels {
		if ch.Name == "" {
			return fmt.Errorf("notification channel name is required")
		}
		switch ch.Type {
		case "webhook":
			if ch.URL == "" {
				return fmt.Errorf("channel %s requires url", ch.Name)
			}
		case "inapp":
		default:
			return fmt.Errorf("channel %s has unsupported type %q", ch.Name, ch.Type)
		}
	}

	for _, sub := range c.Notify.Subscriptions {
		found := false
		for _, ch := range c.Notify.Channels {
			if ch.Name == sub.Channel {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("subscription for %s references unknown channel %q", sub.UserID, sub.Channel)
		}
	}

	return nil
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Function: FunctionConfig{
			Endpoint:     "http://localhost:9090/v1/execute",
			CallTimeout:  10 * time.Second,
			MaxAttempts:  3,
			BaseDelay:    100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			AuthTokenEnv: "PLAYMESH_FUNCTION_TOKEN",
		},
		Session: SessionConfig{
			Lease:         30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Events: EventsConfig{
			BufferSize:     256,
			EnqueueRetries: 3,
			EnqueueWait:    50 * time.Millisecond,
			DeliverRetries: 2,
		},
		Notify: NotifyConfig{
			DatabasePath: "notifications.db",
			Channels: []ChannelConfig{
				{
					Name:        "inapp",
					Type:        "inapp",
					QueueSize:   64,
					MaxAttempts: 3,
					RetryDelay:  200 * time.Millisecond,
					SendTimeout: 5 * time.Second,
				},
			},
		},
	}

	return config
}

// SaveConfig saves configuration to a YAML file.
func SaveConfig(config *Config, filePath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
