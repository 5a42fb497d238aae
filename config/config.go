package config

import (
	"time"

	"github.com/pcloudy-tools/pcloudy-service/model"
	"github.com/spf13/viper"
)

const DefaultBaseURL = "https://device.pcloudy.com/api"

// Config carries the settings the client core needs. Credentials come from
// the PCLOUDY_USERNAME / PCLOUDY_API_KEY environment; everything else has a
// sane default.
type Config struct {
	BaseURL               string
	Username              string
	APIKey                string
	AuthToken             string
	RequestTimeout        time.Duration
	TokenRefreshThreshold time.Duration
	DefaultPlatform       string
	DefaultDuration       int
}

func Load() *Config {
	v := viper.New()

	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("request_timeout", 60)
	v.SetDefault("token_refresh_threshold", 3600)
	v.SetDefault("default_platform", "android")
	v.SetDefault("default_duration", 30)

	v.SetEnvPrefix("PCLOUDY")
	v.AutomaticEnv()

	return &Config{
		BaseURL:               v.GetString("base_url"),
		Username:              v.GetString("username"),
		APIKey:                v.GetString("api_key"),
		AuthToken:             v.GetString("auth_token"),
		RequestTimeout:        time.Duration(v.GetInt("request_timeout")) * time.Second,
		TokenRefreshThreshold: time.Duration(v.GetInt("token_refresh_threshold")) * time.Second,
		DefaultPlatform:       v.GetString("default_platform"),
		DefaultDuration:       v.GetInt("default_duration"),
	}
}

func (c *Config) Credential() model.Credential {
	return model.Credential{Username: c.Username, APIKey: c.APIKey}
}
