package database

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Driver identifies which backend a DATABASE_URL points to.
type Driver string

const (
	DriverMongo    Driver = "mongodb"
	DriverPostgres Driver = "postgres"
	DriverMemory   Driver = "memory"
)

type Config struct {
	URL            string        `env:"DATABASE_URL" envDefault:"mongodb://localhost:27017/userDB"`
	MaxConns       int           `env:"DATABASE_MAX_CONNS" envDefault:"5"`
	Timeout        time.Duration `env:"DATABASE_TIMEOUT" envDefault:"5s"`
	TimeZone       string        `env:"DATABASE_TIMEZONE"`
	ClientEncoding string        `env:"DATABASE_CLIENT_ENCODING"`
}

// Driver returns the backend selected by the URL scheme.
func (c Config) Driver() (Driver, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "mongodb", "mongodb+srv":
		return DriverMongo, nil
	case "postgres", "postgresql":
		return DriverPostgres, nil
	case "memory":
		return DriverMemory, nil
	default:
		return "", fmt.Errorf("unsupported database scheme %q", u.Scheme)
	}
}

// MongoDatabase returns the database name from the URL path, defaulting to userDB.
func (c Config) MongoDatabase() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "userDB"
	}
	name := strings.Trim(u.Path, "/")
	if name == "" {
		return "userDB"
	}
	return name
}
