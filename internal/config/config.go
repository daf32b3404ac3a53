package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-secrets/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-secrets/internal/session"
	"github.com/ovaphlow/pitchfork/service-secrets/pkg/database"
	"github.com/ovaphlow/pitchfork/service-secrets/pkg/utilities"
)

// Config is the full process configuration, read from the environment.
type Config struct {
	Addr       string `env:"SECRETS_ADDR" envDefault:"0.0.0.0:3000"`
	BcryptCost int    `env:"BCRYPT_COST" envDefault:"12"`

	Database database.Config
	Session  session.Config
	OAuth    oauth.Config
	Log      utilities.LogConfig
}

// LoadEnvFile loads a .env file. An explicit path must exist; the default
// ".env" is optional.
func LoadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	_ = godotenv.Load()
	return nil
}

// Load parses the environment for the web server. Storage, session and
// OAuth settings must all be valid.
func Load() (Config, error) {
	cfg, err := parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadStorage parses the environment for commands that only touch the
// database. Session and OAuth settings are not checked.
func LoadStorage() (Config, error) {
	cfg, err := parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validateStorage(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if len(c.Session.Secret) < 16 {
		return errors.New("SESSION_SECRET must be at least 16 characters")
	}
	if (c.OAuth.ClientID == "") != (c.OAuth.ClientSecret == "") {
		return errors.New("CLIENT_ID and CLIENT_SECRET must be set together")
	}
	return nil
}

func (c Config) validateStorage() error {
	if _, err := c.Database.Driver(); err != nil {
		return err
	}
	switch c.Session.Store {
	case "database", "memory":
	default:
		return fmt.Errorf("SESSION_STORE must be database or memory, got %q", c.Session.Store)
	}
	return nil
}
