// Package config loads the node's configuration from a YAML file with
// environment-variable overrides, adapted from the teacher's
// viper-based loader (pkg/config/config.go) to this node's component
// surface (Network, Store, KV, Workers, API, Oracle, Logging) instead of
// a consensus node's (Consensus, VM, bootstrap peers).
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/metahash-oss/torrentnode/pkg/utils"
)

// Config is the unified configuration for a torrentnode process.
type Config struct {
	Network struct {
		Peers            []string `mapstructure:"peers" json:"peers"`
		CountBlocksBatch int      `mapstructure:"count_blocks_batch" json:"count_blocks_batch"`
		PreloadBlocks    int      `mapstructure:"preload_blocks" json:"preload_blocks"`
		AdvancedBlocks   int      `mapstructure:"advanced_blocks" json:"advanced_blocks"`
		RequestTimeoutMS int      `mapstructure:"request_timeout_ms" json:"request_timeout_ms"`
		Compress         bool     `mapstructure:"compress" json:"compress"`
	} `mapstructure:"network" json:"network"`

	Store struct {
		Dir          string `mapstructure:"dir" json:"dir"`
		MaxFileBytes uint64 `mapstructure:"max_file_bytes" json:"max_file_bytes"`
	} `mapstructure:"store" json:"store"`

	KV struct {
		Dir      string `mapstructure:"dir" json:"dir"`
		InMemory bool   `mapstructure:"in_memory" json:"in_memory"`
	} `mapstructure:"kv" json:"kv"`

	Workers struct {
		EnableContracts bool `mapstructure:"enable_contracts" json:"enable_contracts"`
		EnableNodeTests bool `mapstructure:"enable_node_tests" json:"enable_node_tests"`
		ValidateStates  bool `mapstructure:"validate_states" json:"validate_states"`
	} `mapstructure:"workers" json:"workers"`

	API struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"api" json:"api"`

	Metrics struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"metrics" json:"metrics"`

	Oracle struct {
		BaseURL          string `mapstructure:"base_url" json:"base_url"`
		RequestTimeoutMS int    `mapstructure:"request_timeout_ms" json:"request_timeout_ms"`
	} `mapstructure:"oracle" json:"oracle"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration most recently loaded via Load or
// LoadFromEnv, mirroring the teacher's process-wide singleton.
var AppConfig Config

// Load reads the named configuration file (searched under ./config and
// ./cmd/config, matching the teacher's search path convention) plus a
// ".env" file if present, applies environment overrides, and unmarshals
// the result into AppConfig.
func Load(name string) (*Config, error) {
	_ = godotenv.Load() // optional; a missing .env is not an error

	if name == "" {
		name = "default"
	}
	viper.SetConfigName(name)
	viper.AddConfigPath("config")
	viper.AddConfigPath("cmd/config")
	viper.SetConfigType("yaml")
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	viper.SetEnvPrefix("TORRENTNODE")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the TORRENTNODE_ENV environment
// variable to select a named profile (empty selects "default").
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("TORRENTNODE_ENV", ""))
}

func setDefaults() {
	viper.SetDefault("network.count_blocks_batch", 50)
	viper.SetDefault("network.preload_blocks", 5)
	viper.SetDefault("network.advanced_blocks", 8)
	viper.SetDefault("network.request_timeout_ms", 5000)
	viper.SetDefault("store.dir", "data/blocks")
	viper.SetDefault("store.max_file_bytes", 256<<20)
	viper.SetDefault("kv.dir", "data/kv")
	viper.SetDefault("workers.enable_contracts", true)
	viper.SetDefault("workers.enable_node_tests", true)
	viper.SetDefault("api.listen_addr", ":8080")
	viper.SetDefault("metrics.listen_addr", ":9090")
	viper.SetDefault("oracle.request_timeout_ms", 10000)
	viper.SetDefault("logging.level", "info")
}

// String renders cfg for diagnostic logging. The config carries no
// secrets — peer URLs and filesystem paths only.
func (c *Config) String() string {
	return fmt.Sprintf("network{peers=%d} store{%s} kv{%s} api{%s} oracle{%s}",
		len(c.Network.Peers), c.Store.Dir, c.KV.Dir, c.API.ListenAddr, c.Oracle.BaseURL)
}
