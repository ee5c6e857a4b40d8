// FILE: chatwisp/src/internal/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"chatwisp/src/internal/core"

	lconfig "github.com/lixenwraith/config"
)

const envPrefix = "CHATWISP_"

func defaults() *Config {
	return &Config{
		Logging: defaultLogConfig(),
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeoutMS:  10000,
			WriteTimeoutMS: 0,
			MaxBodySize:    1 * 1024 * 1024,
			TLS: TLSConfig{
				MinVersion: "TLS1.2",
			},
			RateLimit: RateLimitConfig{
				Enabled:                false,
				RequestsPerSecond:      10,
				BurstSize:              20,
				CleanupIntervalSeconds: 60,
			},
		},
		TCP: TCPConfig{
			Enabled:       false,
			Host:          "0.0.0.0",
			Port:          9090,
			MaxLineBytes:  1 * 1024 * 1024,
			AuthTimeoutMS: 30000,
		},
		Store: StoreConfig{
			Backend:    "file",
			MaxEntries: core.DefaultMaxEntries,
			MaxErrors:  core.DefaultMaxErrors,
			File: FileStoreConfig{
				Directory: "./logs",
				Name:      "received",
			},
			Upstash: UpstashStoreConfig{
				Key:       "chatwisp:logs",
				ErrorsKey: "chatwisp:errors",
				TimeoutMS: 5000,
			},
			Postgres: PostgresStoreConfig{
				Table:    "chat_logs",
				MaxConns: 4,
			},
			Pebble: PebbleStoreConfig{
				Directory: "./logs/pebble",
			},
		},
		Ingest: IngestConfig{
			ReceiverName:   core.DefaultReceiverName,
			MaxFieldLength: core.DefaultMaxFieldLength,
			RecordErrors:   true,
		},
		Query: QueryConfig{
			DefaultLimit: core.DefaultQueryLimit,
			MaxLimit:     core.MaxQueryLimit,
		},
		Stream: StreamConfig{
			BufferSize:  256,
			ReplayLimit: core.DefaultQueryLimit,
			Heartbeat: HeartbeatConfig{
				Enabled:          true,
				IntervalSeconds:  15,
				IncludeTimestamp: true,
			},
		},
		Forward: ForwardConfig{
			TimeoutMS: 5000,
			QueueSize: 1000,
			Workers:   2,
			Kafka: KafkaConfig{
				Topic:        "chat-logs",
				RequiredAcks: "one",
			},
		},
	}
}

// Loads configuration from defaults, file, environment and CLI arguments
func LoadWithCLI(cliArgs []string) (*Config, error) {
	configPath := GetConfigPath()

	cfg, err := lconfig.NewBuilder().
		WithDefaults(defaults()).
		WithEnvPrefix(envPrefix).
		WithFile(configPath).
		WithArgs(cliArgs).
		WithEnvTransform(customEnvTransform).
		WithSources(
			lconfig.SourceCLI,
			lconfig.SourceEnv,
			lconfig.SourceFile,
			lconfig.SourceDefault,
		).
		Build()

	if err != nil {
		if !strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := applyLegacyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	finalConfig := &Config{}
	if err := cfg.Scan(finalConfig, ""); err != nil {
		return nil, fmt.Errorf("failed to scan config: %w", err)
	}
	finalConfig.ConfigFile = configPath

	return finalConfig, validateConfig(finalConfig)
}

func customEnvTransform(path string) string {
	env := strings.ReplaceAll(path, ".", "_")
	env = strings.ToUpper(env)
	env = envPrefix + env
	return env
}

func GetConfigPath() string {
	if configFile := os.Getenv("CHATWISP_CONFIG_FILE"); configFile != "" {
		if filepath.IsAbs(configFile) {
			return configFile
		}
		if configDir := os.Getenv("CHATWISP_CONFIG_DIR"); configDir != "" {
			return filepath.Join(configDir, configFile)
		}
		return configFile
	}

	if configDir := os.Getenv("CHATWISP_CONFIG_DIR"); configDir != "" {
		return filepath.Join(configDir, "chatwisp.toml")
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config", "chatwisp.toml")
	}

	return "chatwisp.toml"
}

// Environment names understood by earlier deployments of the relay
var legacyEnv = []struct {
	name    string
	path    string
	integer bool
}{
	{name: "UPSTASH_REST_URL", path: "store.upstash.url"},
	{name: "UPSTASH_REST_TOKEN", path: "store.upstash.token"},
	{name: "LOGS_REDIS_KEY", path: "store.upstash.key"},
	{name: "LOGS_MAX", path: "store.max_entries", integer: true},
	{name: "LOG_FORWARD_KEY", path: "ingest.write_key"},
	{name: "LOG_FORWARD_KEY", path: "forward.key"},
	{name: "LOGS_WRITE_KEY", path: "ingest.write_key"},
	{name: "LOG_VIEW_KEY", path: "query.view_key"},
	{name: "LOG_RECEIVER_NAME", path: "ingest.receiver_name"},
	{name: "WEBHOOK_FORWARD", path: "forward.url"},
	{name: "LOG_FORWARD_URL", path: "forward.url"},
}

// Overlays legacy variables onto paths whose CHATWISP_ variable is unset
func applyLegacyEnv(cfg *lconfig.Config, lookup func(string) (string, bool)) error {
	modernSet := func(path string) bool {
		v, ok := lookup(customEnvTransform(path))
		return ok && v != ""
	}

	for _, le := range legacyEnv {
		value, ok := lookup(le.name)
		if !ok || value == "" || modernSet(le.path) {
			continue
		}

		if le.integer {
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", le.name, err)
			}
			cfg.Set(le.path, n)
			continue
		}
		cfg.Set(le.path, value)
	}

	// A legacy forward target implies the HTTP forwarder
	if !modernSet("forward.type") {
		if v, ok := lookup("WEBHOOK_FORWARD"); ok && v != "" {
			cfg.Set("forward.type", "http")
		} else if v, ok := lookup("LOG_FORWARD_URL"); ok && v != "" {
			cfg.Set("forward.type", "http")
		}
	}

	// Upstash credentials select the remote list backend
	if !modernSet("store.backend") {
		url, _ := lookup("UPSTASH_REST_URL")
		token, _ := lookup("UPSTASH_REST_TOKEN")
		if url != "" && token != "" {
			cfg.Set("store.backend", "upstash")
		}
	}

	return nil
}
