package db

import (
	"fmt"
	"net/url"

	"github.com/Builder-Lawyers/billing-backend/pkg/env"
)

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
}

func NewConfig() Config {
	return Config{
		Host:     env.GetEnv("DB_HOST", "localhost"),
		Port:     env.GetEnv("DB_PORT", "5432"),
		User:     env.GetEnv("DB_USER", "postgres"),
		Password: env.GetEnv("DB_PASSWORD", "postgres"),
		Name:     env.GetEnv("DB_NAME", "billing"),
		SSLMode:  env.GetEnv("DB_SSLMODE", "disable"),
		MaxConns: env.GetInt("DB_MAX_CONNS", 20),
	}
}

func (c Config) GetDSN() string {
	return c.url("postgres")
}

// GetMigrateURL returns the DSN in the scheme the migrate pgx/v5 driver registers.
func (c Config) GetMigrateURL() string {
	return c.url("pgx5")
}

func (c Config) url(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:     c.Name,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}
