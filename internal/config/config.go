package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/stablepay/stablepay/internal/errors"
)

// Config drives both the CLI and the resource server. Values resolve in
// order: defaults, then an optional YAML file, then environment
// variables.
type Config struct {
	RPCEndpoint string `yaml:"rpc_endpoint"`
	Network     string `yaml:"network"`
	KeypairPath string `yaml:"keypair_path"`
	HistoryPath string `yaml:"history_path"`
	BackendURL  string `yaml:"backend_url"`
	USDCMint    string `yaml:"usdc_mint"`

	Server ServerConfig `yaml:"server"`
}

// ServerConfig configures the x402 resource/backend server.
type ServerConfig struct {
	Port           string `yaml:"port"`
	DBSource       string `yaml:"db_source"`
	PriceUSDC      string `yaml:"price_usdc"`
	PayTo          string `yaml:"pay_to"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func defaults() *Config {
	return &Config{
		RPCEndpoint: "https://api.devnet.solana.com",
		Network:     "solana-devnet",
		HistoryPath: "stablepay.db",
		USDCMint:    "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Server: ServerConfig{
			Port:           "8080",
			PriceUSDC:      "5",
			TimeoutSeconds: 60,
		},
	}
}

// Load resolves configuration. path may be empty; STABLEPAY_CONFIG
// overrides it.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if env := os.Getenv("STABLEPAY_CONFIG"); env != "" {
		path = env
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindConfiguration, "reading config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, errors.KindConfiguration, "parsing config file")
		}
	}

	overrideString(&cfg.RPCEndpoint, "STABLEPAY_RPC")
	overrideString(&cfg.Network, "STABLEPAY_NETWORK")
	overrideString(&cfg.KeypairPath, "STABLEPAY_KEYPAIR")
	overrideString(&cfg.HistoryPath, "STABLEPAY_HISTORY")
	overrideString(&cfg.BackendURL, "STABLEPAY_BACKEND")
	overrideString(&cfg.USDCMint, "STABLEPAY_USDC_MINT")
	overrideString(&cfg.Server.Port, "SERVER_PORT")
	overrideString(&cfg.Server.DBSource, "DB_SOURCE")
	overrideString(&cfg.Server.PriceUSDC, "SERVER_PRICE_USDC")
	overrideString(&cfg.Server.PayTo, "SERVER_PAY_TO")
	overrideInt(&cfg.Server.TimeoutSeconds, "SERVER_TIMEOUT_SECONDS")

	return cfg, nil
}

// LoadServer is Load plus the checks the server cannot start without.
func LoadServer(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Server.DBSource == "" {
		return nil, errors.Configuration("DB_SOURCE is required")
	}
	if cfg.Server.PayTo == "" {
		return nil, errors.Configuration("SERVER_PAY_TO is required")
	}
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
