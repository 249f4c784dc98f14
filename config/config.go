package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram struct {
		BotToken string   `yaml:"bot_token"`
		Admins   []string `yaml:"admins"`
	} `yaml:"telegram"`
	Redis struct {
		Host      string `yaml:"host"`
		Port      string `yaml:"port"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`
	Draw struct {
		MaxSteps              int  `yaml:"max_steps"`
		SymmetricRestrictions bool `yaml:"symmetric_restrictions"`
		AvoidMutual           bool `yaml:"avoid_mutual"`
	} `yaml:"draw"`
	LogMode string `yaml:"log_mode"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Redis.Host = "localhost"
	cfg.Redis.Port = "6379"
	cfg.Redis.KeyPrefix = "santa"
	cfg.LogMode = "dev"
	return cfg
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE and the environment, in that order of precedence.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.Telegram.BotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable is required")
	}
	if cfg.Draw.MaxSteps < 0 {
		return nil, fmt.Errorf("draw max steps must not be negative, got %d", cfg.Draw.MaxSteps)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_ADMINS"); v != "" {
		c.Telegram.Admins = splitList(v)
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		c.Redis.Port = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_KEY_PREFIX"); v != "" {
		c.Redis.KeyPrefix = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB must be a number: %w", err)
		}
		c.Redis.DB = db
	}

	if v := os.Getenv("DRAW_MAX_STEPS"); v != "" {
		steps, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DRAW_MAX_STEPS must be a number: %w", err)
		}
		c.Draw.MaxSteps = steps
	}
	if v := os.Getenv("DRAW_SYMMETRIC_RESTRICTIONS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DRAW_SYMMETRIC_RESTRICTIONS must be a boolean: %w", err)
		}
		c.Draw.SymmetricRestrictions = b
	}
	if v := os.Getenv("DRAW_AVOID_MUTUAL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DRAW_AVOID_MUTUAL must be a boolean: %w", err)
		}
		c.Draw.AvoidMutual = b
	}

	if v := os.Getenv("LOG_MODE"); v != "" {
		c.LogMode = v
	}
	return nil
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
