// Package config loads the indexer's settings from a TOML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ChainConfig is one chain this bridge deployment watches.
type ChainConfig struct {
	ChainID         int64          `koanf:"chain_id"`
	Name            string         `koanf:"name"`
	RPCURL          string         `koanf:"rpc_url"`
	WSURL           string         `koanf:"ws_url"`
	ContractAddress string         `koanf:"contract_address"`
	StartBlock      uint64         `koanf:"start_block"`
}

// Address returns the configured contract address as a common.Address.
func (c ChainConfig) Address() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// BufferConfig tunes the Tiered Message Buffer.
type BufferConfig struct {
	MaxHotEntries       int           `koanf:"max_hot_entries"`
	HotTTL              time.Duration `koanf:"hot_ttl"`
	MaintenanceInterval time.Duration `koanf:"maintenance_interval"`
}

// Config is the full settings surface the core needs to construct its
// components for one bridge.
type Config struct {
	BridgeID              int32         `koanf:"bridge_id"`
	Chains                []ChainConfig `koanf:"chains"`
	PollInterval          time.Duration `koanf:"poll_interval"`
	BatchSize             uint64        `koanf:"batch_size"`
	ProcessUnknownChains  bool          `koanf:"process_unknown_chains"`
	ReceiptConcurrency    int           `koanf:"receipt_concurrency"`
	Buffer                BufferConfig  `koanf:"buffer"`

	PostgresDSN      string `koanf:"postgres_dsn"`
	CheckpointBackend string `koanf:"checkpoint_backend"`
	CheckpointPath   string `koanf:"checkpoint_path"`

	NATSUrl    string `koanf:"nats_url"`
	MetricsAddr string `koanf:"metrics_addr"`
	HealthAddr  string `koanf:"health_addr"`
	LogLevel   string `koanf:"logging.level"`
}

// Defaults returns a Config populated with spec-mandated defaults, to be
// overlaid by the loaded file/env values.
func Defaults() Config {
	return Config{
		PollInterval:         10 * time.Second,
		BatchSize:            1000,
		ProcessUnknownChains: false,
		ReceiptConcurrency:   25,
		Buffer: BufferConfig{
			MaxHotEntries:       100_000,
			HotTTL:              10 * time.Second,
			MaintenanceInterval: 500 * time.Millisecond,
		},
		CheckpointBackend: "postgres",
		MetricsAddr:       ":9090",
		HealthAddr:        ":8080",
		LogLevel:          "info",
	}
}

// Load reads configPath (TOML) into a Config seeded with Defaults, then
// applies environment variable overrides (e.g. BRIDGE_ID overrides
// bridge_id, BUFFER_HOT_TTL overrides buffer.hot_ttl). A variable name is
// lowercased, and a leading BUFFER_ or LOGGING_ selects that section.
func Load(configPath string) (*Config, error) {
	ko := koanf.New(".")

	if err := ko.Load(file.Provider(configPath), toml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
	}

	if err := ko.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		for _, section := range []string{"buffer_", "logging_"} {
			if strings.HasPrefix(key, section) {
				return strings.TrimSuffix(section, "_") + "." + strings.TrimPrefix(key, section)
			}
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	out := Defaults()
	if err := ko.Unmarshal("", &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(out.Chains) == 0 {
		return nil, fmt.Errorf("config must declare at least one chain")
	}

	return &out, nil
}
