package provider

import (
	"fmt"
	"time"

	"github.com/Builder-Lawyers/billing-backend/pkg/env"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	APIKey    string        `validate:"required"`
	URL       string        `validate:"omitempty,url"`
	Timeout   time.Duration `validate:"gt=0"`
	CacheSize int           `validate:"gt=0"`
	CacheTTL  time.Duration `validate:"gt=0"`
}

func NewConfig() *Config {
	return &Config{
		APIKey:    env.GetEnv("STRIPE_KEY", ""),
		URL:       env.GetEnv("STRIPE_API_URL", ""),
		Timeout:   env.GetSeconds("STRIPE_TIMEOUT_SECONDS", 10*time.Second),
		CacheSize: env.GetInt("STRIPE_LOOKUP_CACHE_SIZE", 1024),
		CacheTTL:  env.GetSeconds("STRIPE_LOOKUP_CACHE_TTL_SECONDS", 5*time.Minute),
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid provider config, %v", err)
	}
	return nil
}
