package config

import (
	"encoding/json"
	"os"

	"github.com/caarlos0/env/v10"
)

// RegistryConfig configures the chain node daemon. Consensus settings live in CometBFT's own
// config.toml; this only covers the application side.
type RegistryConfig struct {
	StateStore struct {
		Type StoreType `env:"TYPE" json:"type"`
		Disk struct {
			Directory string `env:"DIRECTORY" json:"directory"`
		} `envPrefix:"DISK_" json:"disk"`
	} `envPrefix:"STATE_STORE_" json:"state_store"`
}

type StoreType string

const (
	StoreTypeDisk   StoreType = "disk"
	StoreTypeMemory StoreType = "memory"
)

func DefaultRegistry() RegistryConfig {
	var cfg RegistryConfig
	cfg.StateStore.Type = StoreTypeDisk
	cfg.StateStore.Disk.Directory = "data"
	return cfg
}

func LoadRegistryEnv() (RegistryConfig, error) {
	var cfg RegistryConfig
	if err := env.Parse(&cfg); err != nil {
		return RegistryConfig{}, err
	}

	return cfg, nil
}

func LoadRegistryJson(path string) (RegistryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RegistryConfig{}, err
	}

	var cfg RegistryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RegistryConfig{}, err
	}

	return cfg, nil
}
