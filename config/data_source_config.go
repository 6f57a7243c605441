package config

import (
	"fmt"
	"net/url"
)

// A data source provides records for fetch tasks via an upstream API.
type dataSourceConfig struct {
	// the base URL at which the upstream API is accessed
	URL string `yaml:"url"`
	// authorization data used to obtain access tokens
	Auth authConfig `yaml:"auth"`
	// path of the (encrypted) access token cache file
	TokenCacheFile string `yaml:"token_cache_file"`
	// per-request timeout (seconds)
	Timeout int `yaml:"timeout"`
}

// client credentials for a data source
type authConfig struct {
	// a client ID issued by the upstream API
	ClientId string `yaml:"client_id"`
	// the client secret corresponding to the ID
	ClientSecret string `yaml:"client_secret"`
	// a base64-encoded fernet key used to encrypt the cached access token
	TokenKey string `yaml:"token_key"`
}

// This helper validates a single data source entry, returning an error
// indicating success or failure.
func validateDataSource(name string, source dataSourceConfig) error {
	if source.URL != "" {
		if _, err := url.ParseRequestURI(source.URL); err != nil {
			return fmt.Errorf("Invalid URL for data source %s: %s", name, source.URL)
		}
	}
	if source.Timeout < 0 {
		return fmt.Errorf("Invalid timeout for data source %s: %d", name,
			source.Timeout)
	}
	return nil
}
