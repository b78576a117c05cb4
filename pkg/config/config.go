package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"

	"example.com/lumen/pkg/tokens"
	"example.com/lumen/pkg/wallet"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// EnvAPIKey overrides api.api_key when set.
const EnvAPIKey = "LUMEN_API_KEY"

var ErrInvalidConfig = errors.New("invalid config")

// Config holds the lumen node configuration.
type Config struct {
	Token   TokenConfig   `yaml:"token"`
	API     APIConfig     `yaml:"api"`
	Journal JournalConfig `yaml:"journal"`
	Logging LoggingConfig `yaml:"logging"`
}

// TokenConfig describes the token and its genesis allocation.
type TokenConfig struct {
	Name     string `yaml:"name"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`

	// InitialHolder receives InitialSupply (base units, decimal string).
	// Both empty means a ledger with zero supply.
	InitialHolder string `yaml:"initial_holder"`
	InitialSupply string `yaml:"initial_supply"`
}

// APIConfig configures the HTTP harness.
type APIConfig struct {
	Addr          string    `yaml:"addr"`
	APIKey        string    `yaml:"api_key"`
	RatePerSecond float64   `yaml:"rate_per_second"`
	Burst         int       `yaml:"burst"`
	TLS           TLSConfig `yaml:"tls"`
}

// TLSConfig enables HTTPS when both files are set.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled reports whether certificates were configured.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// JournalConfig configures the bolt event journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the configuration used for unset fields.
func DefaultConfig() *Config {
	return &Config{
		Token: TokenConfig{
			Name:     tokens.DefaultMetadata.Name,
			Symbol:   tokens.DefaultMetadata.Symbol,
			Decimals: tokens.DefaultMetadata.Decimals,
		},
		API: APIConfig{
			Addr:          ":8080",
			RatePerSecond: 5,
			Burst:         5,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "lumen-journal.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
// The environment override is applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if key := os.Getenv(EnvAPIKey); key != "" {
		cfg.API.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail at startup.
func (c *Config) Validate() error {
	if _, _, err := c.Token.Genesis(); err != nil {
		return err
	}
	if c.API.Addr == "" {
		return fmt.Errorf("%w: api.addr is required", ErrInvalidConfig)
	}
	if c.API.RatePerSecond <= 0 || c.API.Burst <= 0 {
		return fmt.Errorf("%w: api rate_per_second and burst must be positive", ErrInvalidConfig)
	}
	if (c.API.TLS.CertFile == "") != (c.API.TLS.KeyFile == "") {
		return fmt.Errorf("%w: api.tls needs both cert_file and key_file", ErrInvalidConfig)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("%w: journal.path is required when the journal is enabled", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown logging.level %q", ErrInvalidConfig, c.Logging.Level)
	}
	return nil
}

// Metadata returns the token description.
func (c TokenConfig) Metadata() tokens.Metadata {
	return tokens.Metadata{Name: c.Name, Symbol: c.Symbol, Decimals: c.Decimals}
}

// Genesis parses the initial allocation. A nil supply means none.
func (c TokenConfig) Genesis() (tokens.Holder, *uint256.Int, error) {
	if c.InitialHolder == "" && c.InitialSupply == "" {
		return tokens.Holder{}, nil, nil
	}
	holder, err := wallet.ParseHolder(c.InitialHolder)
	if err != nil {
		return tokens.Holder{}, nil, fmt.Errorf("%w: token.initial_holder: %v", ErrInvalidConfig, err)
	}
	supply, err := uint256.FromDecimal(c.InitialSupply)
	if err != nil {
		return tokens.Holder{}, nil, fmt.Errorf("%w: token.initial_supply: %v", ErrInvalidConfig, err)
	}
	return holder, supply, nil
}

// LoadTLSConfig loads the TLS configuration with certificates
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificates: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
