package cdp

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	APIURL         string        `envconfig:"CDP_API_URL" default:"https://api.cdp.coinbase.com"`
	APIKeyName     string        `envconfig:"CDP_API_KEY_NAME" required:"true"`
	APIPrivateKey  string        `envconfig:"CDP_API_PRIVATE_KEY" required:"true"`
	RequestTimeout time.Duration `envconfig:"CDP_REQUEST_TIMEOUT" default:"30s"`
	MaxRetries     uint64        `envconfig:"CDP_MAX_RETRIES" default:"3"`
}

func LoadConfig() (c *Config, err error) {
	c = &Config{}
	err = envconfig.Process("", c)
	if err != nil {
		return nil, err
	}
	// keys pasted into .env files usually carry escaped newlines
	c.APIPrivateKey = strings.ReplaceAll(c.APIPrivateKey, `\n`, "\n")
	return c, nil
}
