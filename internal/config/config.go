package config

import (
	"encoding/json"
	"os"
	"time"
)

// Config holds the application configuration
type Config struct {
	Model               string        `json:"model"`
	OpenAIBaseURL       string        `json:"openai_base_url,omitempty"`
	RDAPBaseURL         string        `json:"rdap_base_url,omitempty"`
	TokensPerMinute     int64         `json:"tokens_per_minute"`
	MaxContextTokens    int64         `json:"max_context_tokens"`
	RegistryTTL         time.Duration `json:"registry_ttl"`
	RegistrySources     []string      `json:"registry_sources,omitempty"`
	RPSLSources         []string      `json:"rpsl_sources,omitempty"`
	ArinAPIKey          string        `json:"arin_api_key,omitempty"`
	RangeExpansionLimit int64         `json:"range_expansion_limit,omitempty"`
	TelegramToken       string        `json:"telegram_token,omitempty"`
	TelegramChannel     string        `json:"telegram_channel,omitempty"` // Channel username (e.g., @AsnReports) or chat ID
}

// UnmarshalJSON implements custom JSON unmarshaling for Config
func (c *Config) UnmarshalJSON(data []byte) error {
	// Use a temporary struct to handle the TTL as string
	type Alias Config
	aux := &struct {
		RegistryTTL string `json:"registry_ttl"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	// Parse TTL string to time.Duration
	if aux.RegistryTTL != "" {
		duration, err := time.ParseDuration(aux.RegistryTTL)
		if err != nil {
			return err
		}
		c.RegistryTTL = duration
	} else {
		c.RegistryTTL = 7 * 24 * time.Hour // Default
	}

	return nil
}

// MarshalJSON implements custom JSON marshaling for Config
func (c Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		RegistryTTL string `json:"registry_ttl"`
		*Alias
	}{
		RegistryTTL: c.RegistryTTL.String(),
		Alias:       (*Alias)(&c),
	})
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Model:               "gpt-5-nano",
		OpenAIBaseURL:       "https://api.openai.com/v1/",
		RDAPBaseURL:         "https://rdap.org/",
		TokensPerMinute:     200_000,
		MaxContextTokens:    250_000,
		RegistryTTL:         7 * 24 * time.Hour,
		RegistrySources:     DefaultRegistrySources(),
		RPSLSources:         DefaultRPSLSources(),
		RangeExpansionLimit: 1000,
	}
}

// LoadConfig loads configuration from a JSON file, or returns default if file doesn't exist
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	// Set defaults if empty
	if config.Model == "" {
		config.Model = "gpt-5-nano"
	}
	if config.OpenAIBaseURL == "" {
		config.OpenAIBaseURL = "https://api.openai.com/v1/"
	}
	if config.RDAPBaseURL == "" {
		config.RDAPBaseURL = "https://rdap.org/"
	}
	if config.TokensPerMinute <= 0 {
		config.TokensPerMinute = 200_000
	}
	if config.MaxContextTokens <= 0 {
		config.MaxContextTokens = 250_000
	}
	if len(config.RegistrySources) == 0 {
		config.RegistrySources = DefaultRegistrySources()
	}
	if len(config.RPSLSources) == 0 {
		config.RPSLSources = DefaultRPSLSources()
	}
	if config.RangeExpansionLimit <= 0 {
		config.RangeExpansionLimit = 1000
	}

	return &config, nil
}

// SaveConfig saves configuration to a JSON file
func SaveConfig(path string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultRegistrySources returns the delegated-extended feeds of the five RIRs
func DefaultRegistrySources() []string {
	return []string{
		"https://ftp.arin.net/pub/stats/arin/delegated-arin-extended-latest",
		"https://ftp.apnic.net/pub/stats/apnic/delegated-apnic-extended-latest",
		"https://ftp.ripe.net/pub/stats/ripencc/delegated-ripencc-extended-latest",
		"https://ftp.lacnic.net/pub/stats/lacnic/delegated-lacnic-extended-latest",
		"https://ftp.afrinic.net/pub/stats/afrinic/delegated-afrinic-extended-latest",
	}
}

// DefaultRPSLSources returns the public RPSL database dumps.
// LACNIC doesn't provide public RPSL database access - requires special bulk
// whois request; LACNIC ASN data comes from the delegated-extended file instead.
func DefaultRPSLSources() []string {
	return []string{
		"https://ftp.ripe.net/ripe/dbase/split/ripe.db.aut-num.gz",
		"https://ftp.apnic.net/apnic/whois/apnic.db.aut-num.gz",
		"https://ftp.afrinic.net/pub/dbase/afrinic.db.gz",
		"https://ftp.arin.net/pub/rr/arin.db.gz",
	}
}
