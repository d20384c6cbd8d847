// Package config defines the relay's settings. Values come from defaults,
// MEGAETH_* environment variables and command line flags, with the vault
// address optionally read from a deployments.json file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ethereum/go-ethereum/common"
)

// Prefix is the environment variable prefix for every setting.
const Prefix = "MEGAETH"

// Store kinds.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePebble   = "pebble"
	StorePostgres = "postgres"
)

// Config is all the configuration for the relay.
type Config struct {
	conf.Version
	Web struct {
		Host            string        `conf:"default:0.0.0.0"`
		Port            int           `conf:"default:3000"`
		ReadTimeout     time.Duration `conf:"default:5s"`
		WriteTimeout    time.Duration `conf:"default:30s"`
		IdleTimeout     time.Duration `conf:"default:120s"`
		ShutdownTimeout time.Duration `conf:"default:20s"`
		CORSOrigins     []string      `conf:"default:*"`
	}
	Chain struct {
		URL       string `conf:"default:https://carrot.megaeth.com/rpc"`
		ID        int64  `conf:"default:6342"`
		Simulated bool   `conf:"default:false"`
	}
	Vault struct {
		Address     string
		Deployments string `conf:"help:path to a deployments.json holding the TipsVault address"`
	}
	Signer struct {
		Key string `conf:"mask"`
	}
	Relay struct {
		ConfirmTimeout  time.Duration `conf:"default:10s"`
		ReceiptInterval time.Duration `conf:"default:1s"`
		MemoLimit       int           `conf:"default:64"`
		HMACSecret      string        `conf:"mask"`
		HMACClockSkew   time.Duration `conf:"default:60s"`
	}
	Store struct {
		Kind   string        `conf:"default:memory,help:memory|file|pebble|postgres"`
		Path   string        `conf:"default:zdata/idempotency"`
		DSN    string        `conf:"mask"`
		Window time.Duration `conf:"default:24h"`
	}
	History struct {
		PageSize int `conf:"default:50"`
	}
}

// Parse sets the defaults and then applies environment variables and
// command line flags. The returned help text is non-empty when --help or
// --version was requested.
func Parse(build, desc string) (Config, string, error) {
	cfg := Config{
		Version: conf.Version{
			Build: build,
			Desc:  desc,
		},
	}

	help, err := conf.Parse(Prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			return cfg, help, nil
		}
		return cfg, "", fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, "", err
	}
	return cfg, "", nil
}

// String renders the configuration with secrets masked.
func String(cfg *Config) (string, error) {
	return conf.String(cfg)
}

// Validate checks values conf cannot express as defaults.
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case StoreMemory, StoreFile, StorePebble:
	case StorePostgres:
		if c.Store.DSN == "" {
			return errors.New("store kind postgres requires a DSN")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}

	if c.Vault.Address != "" && !common.IsHexAddress(c.Vault.Address) {
		return fmt.Errorf("invalid vault address %q", c.Vault.Address)
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// VaultAddress returns the configured TipsVault address, falling back to
// the deployments file. An empty result means tipping is not configured.
func (c *Config) VaultAddress() (string, error) {
	if c.Vault.Address != "" {
		return c.Vault.Address, nil
	}
	if c.Vault.Deployments == "" {
		return "", nil
	}

	dep, err := LoadDeployments(c.Vault.Deployments)
	if err != nil {
		return "", fmt.Errorf("load deployments: %w", err)
	}
	if dep.ChainID != 0 && dep.ChainID != c.Chain.ID {
		return "", fmt.Errorf("deployments are for chain %d, configured chain is %d", dep.ChainID, c.Chain.ID)
	}

	addr := strings.TrimSpace(dep.Contracts.TipsVault)
	if addr != "" && !common.IsHexAddress(addr) {
		return "", fmt.Errorf("invalid TipsVault address %q in %s", addr, c.Vault.Deployments)
	}
	return addr, nil
}

// RelayEnabled reports whether the relay can sign and submit tips.
func (c *Config) RelayEnabled(vaultAddress string) bool {
	if c.Chain.Simulated {
		return true
	}
	return vaultAddress != "" && c.Signer.Key != ""
}

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID   int64  `json:"chainId"`
	Deployer  string `json:"deployer"`
	Contracts struct {
		TipsVault string `json:"TipsVault"`
	} `json:"contracts"`
}

// LoadDeployments reads a deployments.json file.
func LoadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
