package config

import (
	"encoding/json"
	"os"

	"github.com/anchorstack/commitchain/pkg/types"
	"github.com/caarlos0/env/v10"
)

type (
	Config struct {
		Production bool       `json:"production" env:"PRODUCTION" envDefault:"false"`
		PrettyLogs bool       `json:"pretty_logs" env:"PRETTY_LOGS" envDefault:"false"`
		LogLevel   string     `json:"log_level" env:"LOG_LEVEL" envDefault:"info"`
		Server     Server     `json:"server" envPrefix:"SERVER_"`
		Blockchain Blockchain `json:"blockchain" envPrefix:"BLOCKCHAIN_"`
		MongoDB    MongoDB    `json:"mongodb" envPrefix:"MONGODB_"`
		State      State      `json:"state" envPrefix:"STATE_"`
		Anchor     Anchor     `json:"anchor" envPrefix:"ANCHOR_"`
	}

	Server struct {
		Address string `json:"address" env:"ADDRESS" envDefault:"0.0.0.0:3000"`
	}

	Blockchain struct {
		NodeAddresses []string                 `json:"node_addresses" env:"NODE_ADDRESSES" envSeparator:","`
		MinimumNodes  int                      `json:"minimum_nodes" env:"MINIMUM_NODES" envDefault:"1"`
		Principal     string                   `json:"principal" env:"PRINCIPAL"`
		PrivateKey    string                   `json:"private_key" env:"PRIVATE_KEY"`
		QueryTimeout  types.MarshalledDuration `json:"query_timeout" env:"QUERY_TIMEOUT" envDefault:"5s"`
		PollInterval  types.MarshalledDuration `json:"poll_interval" env:"POLL_INTERVAL" envDefault:"200ms"`
		SubmitTimeout types.MarshalledDuration `json:"submit_timeout" env:"SUBMIT_TIMEOUT" envDefault:"15s"`
	}

	MongoDB struct {
		URI          string `json:"uri" env:"URI"`
		DatabaseName string `json:"database_name" env:"DATABASE_NAME"`
	}

	State struct {
		Path string `json:"path" env:"PATH" envDefault:"state.db"`
	}

	Anchor struct {
		PollInterval      types.MarshalledDuration `json:"poll_interval" env:"POLL_INTERVAL" envDefault:"5s"`
		CycleTimeout      types.MarshalledDuration `json:"cycle_timeout" env:"CYCLE_TIMEOUT" envDefault:"2m"`
		MinEventCount     uint32                   `json:"min_event_count" env:"MIN_EVENT_COUNT" envDefault:"1"`
		MaxAnchorLag      types.MarshalledDuration `json:"max_anchor_lag" env:"MAX_ANCHOR_LAG" envDefault:"5m"`
		MaxConcurrentKeys int                      `json:"max_concurrent_keys" env:"MAX_CONCURRENT_KEYS" envDefault:"4"`
		MaxRetries        uint64                   `json:"max_retries" env:"MAX_RETRIES" envDefault:"5"`
		InitialBackoff    types.MarshalledDuration `json:"initial_backoff" env:"INITIAL_BACKOFF" envDefault:"500ms"`
		MaxBackoff        types.MarshalledDuration `json:"max_backoff" env:"MAX_BACKOFF" envDefault:"15s"`
		BreakerThreshold  int                      `json:"breaker_threshold" env:"BREAKER_THRESHOLD" envDefault:"5"`
		BreakerCooldown   types.MarshalledDuration `json:"breaker_cooldown" env:"BREAKER_COOLDOWN" envDefault:"30s"`
	}
)

func Load() (Config, error) {
	var conf Config

	// Try to load JSON config file, but fallback to environment variables if it does not exist
	if _, err := os.Stat("config.json"); err == nil {
		bytes, err := os.ReadFile("config.json")
		if err != nil {
			return Config{}, err
		}

		if err := json.Unmarshal(bytes, &conf); err != nil {
			return Config{}, err
		}

		return conf, nil
	}

	if err := env.Parse(&conf); err != nil {
		return Config{}, err
	}

	return conf, nil
}
