package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel string `yaml:"log-level" env:"RENJU_LOG_LEVEL" env-default:"info"`

	// Address and Username feed the initial connect. An empty address starts
	// the client idle until a connect command is entered.
	Address  string `yaml:"address" env:"RENJU_ADDRESS"`
	Username string `yaml:"username" env:"RENJU_USERNAME" env-default:"player"`

	Theme   Theme `yaml:"theme"`
	Offline bool  `yaml:"offline" env:"RENJU_OFFLINE" env-default:"false"`

	FrameInterval    time.Duration `yaml:"frame-interval" env:"RENJU_FRAME_INTERVAL" env-default:"50ms"`
	DialTimeout      time.Duration `yaml:"dial-timeout" env:"RENJU_DIAL_TIMEOUT" env-default:"5s"`
	InboundQueueSize int           `yaml:"inbound-queue-size" env:"RENJU_INBOUND_QUEUE_SIZE" env-default:"256"`

	Reconnect Reconnect `yaml:"reconnect"`
}

type Theme struct {
	Dark bool `yaml:"dark" env:"RENJU_THEME_DARK" env-default:"false"`
}

// Reconnect is the retry policy applied after an unexpected disconnect.
type Reconnect struct {
	Enabled         bool          `yaml:"enabled" env:"RENJU_RECONNECT_ENABLED" env-default:"false"`
	MaxRetries      uint64        `yaml:"max-retries" env:"RENJU_RECONNECT_MAX_RETRIES" env-default:"5"`
	InitialInterval time.Duration `yaml:"initial-interval" env:"RENJU_RECONNECT_INITIAL_INTERVAL" env-default:"500ms"`
	MaxInterval     time.Duration `yaml:"max-interval" env:"RENJU_RECONNECT_MAX_INTERVAL" env-default:"10s"`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(err)
	}

	return config
}

// Load reads path and applies environment overrides on top of it.
func Load(path string) (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return nil, fmt.Errorf("unable to load config file: %w", err)
	}

	return config, nil
}

// Default returns the configuration built from defaults and the environment
// only, for runs without a config file.
func Default() (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("unable to read environment: %w", err)
	}

	return config, nil
}
