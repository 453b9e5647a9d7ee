package config

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Secrets are read from the environment (and a .env file next to the
// config) and override whatever the config file says.
type Secrets struct {
	Token         string `env:"TIMERBOT_TOKEN"`
	RedisPassword string `env:"TIMERBOT_REDIS_PASSWORD"`
	HTTPToken     string `env:"TIMERBOT_HTTP_TOKEN"`
}

// LoadDotEnv loads .env from the config directory. Existing variables win;
// a missing file is not an error.
func LoadDotEnv(cfgPath string) error {
	p := filepath.Join(filepath.Dir(cfgPath), ".env")
	if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func ReadSecrets() (Secrets, error) {
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, err
	}
	return s, nil
}

// Overlay copies non-empty secrets into cfg.
func (s Secrets) Overlay(cfg *Config) {
	if cfg == nil {
		return
	}
	if s.Token != "" {
		cfg.Telegram.Token = s.Token
	}
	if s.HTTPToken != "" {
		cfg.HTTP.Token = s.HTTPToken
	}
	if s.RedisPassword != "" && cfg.Storage != nil {
		if cfg.Storage.Redis == nil {
			cfg.Storage.Redis = &RedisConfig{}
		}
		cfg.Storage.Redis.Password = s.RedisPassword
	}
}
