// FILE: chatwisp/src/internal/config/config.go
package config

type Config struct {
	// Top-level flags for application control
	Quiet                 bool   `toml:"quiet"`
	DisableStatusReporter bool   `toml:"disable_status_reporter"`
	ConfigFile            string `toml:"config_file"`

	Logging LogConfig     `toml:"logging"`
	Server  ServerConfig  `toml:"server"`
	TCP     TCPConfig     `toml:"tcp"`
	Store   StoreConfig   `toml:"store"`
	Ingest  IngestConfig  `toml:"ingest"`
	Query   QueryConfig   `toml:"query"`
	Stream  StreamConfig  `toml:"stream"`
	Forward ForwardConfig `toml:"forward"`
}

// HTTP listener settings
type ServerConfig struct {
	Host           string `toml:"host"`
	Port           int64  `toml:"port"`
	ReadTimeoutMS  int64  `toml:"read_timeout_ms"`
	WriteTimeoutMS int64  `toml:"write_timeout_ms"`
	MaxBodySize    int64  `toml:"max_body_size"`

	TLS       TLSConfig       `toml:"tls"`
	Access    NetAccessConfig `toml:"access"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

type TLSConfig struct {
	Enabled    bool   `toml:"enabled"`
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	MinVersion string `toml:"min_version"`
}

// IP allow/deny lists, entries are addresses or CIDR ranges
type NetAccessConfig struct {
	IPWhitelist []string `toml:"ip_whitelist"`
	IPBlacklist []string `toml:"ip_blacklist"`
}

// Per-IP limit on submissions
type RateLimitConfig struct {
	Enabled                bool    `toml:"enabled"`
	RequestsPerSecond      float64 `toml:"requests_per_second"`
	BurstSize              int64   `toml:"burst_size"`
	CleanupIntervalSeconds int64   `toml:"cleanup_interval_seconds"`
}

// Newline-delimited JSON ingestion listener
type TCPConfig struct {
	Enabled      bool   `toml:"enabled"`
	Host         string `toml:"host"`
	Port         int64  `toml:"port"`
	MaxLineBytes int64  `toml:"max_line_bytes"`
	// Time allowed for the AUTH line when a write key is set
	AuthTimeoutMS int64 `toml:"auth_timeout_ms"`
}

type StoreConfig struct {
	// Backend: "memory", "file", "upstash", "postgres", "pebble"
	Backend    string `toml:"backend"`
	MaxEntries int64  `toml:"max_entries"`
	MaxErrors  int64  `toml:"max_errors"`

	File     FileStoreConfig     `toml:"file"`
	Upstash  UpstashStoreConfig  `toml:"upstash"`
	Postgres PostgresStoreConfig `toml:"postgres"`
	Pebble   PebbleStoreConfig   `toml:"pebble"`
}

type FileStoreConfig struct {
	Directory string `toml:"directory"`
	Name      string `toml:"name"`
	Compress  bool   `toml:"compress"`
}

type UpstashStoreConfig struct {
	URL       string `toml:"url"`
	Token     string `toml:"token"`
	Key       string `toml:"key"`
	ErrorsKey string `toml:"errors_key"`
	TimeoutMS int64  `toml:"timeout_ms"`
}

type PostgresStoreConfig struct {
	DSN      string `toml:"dsn"`
	Table    string `toml:"table"`
	MaxConns int64  `toml:"max_conns"`
}

type PebbleStoreConfig struct {
	Directory string `toml:"directory"`
}

type IngestConfig struct {
	WriteKey       string         `toml:"write_key"`
	ReceiverName   string         `toml:"receiver_name"`
	MaxFieldLength int64          `toml:"max_field_length"`
	RecordErrors   bool           `toml:"record_errors"`
	Filters        []FilterConfig `toml:"filters"`
}

type QueryConfig struct {
	ViewKey      string    `toml:"view_key"`
	DefaultLimit int64     `toml:"default_limit"`
	MaxLimit     int64     `toml:"max_limit"`
	JWT          JWTConfig `toml:"jwt"`
}

// Bearer tokens accepted for reads in place of the view key
type JWTConfig struct {
	SigningKey string `toml:"signing_key"`
	Issuer     string `toml:"issuer"`
	Audience   string `toml:"audience"`
}

type StreamConfig struct {
	BufferSize  int64           `toml:"buffer_size"`
	ReplayLimit int64           `toml:"replay_limit"`
	Heartbeat   HeartbeatConfig `toml:"heartbeat"`
}

type HeartbeatConfig struct {
	Enabled          bool  `toml:"enabled"`
	IntervalSeconds  int64 `toml:"interval_seconds"`
	IncludeTimestamp bool  `toml:"include_timestamp"`
}

type ForwardConfig struct {
	// Type: "" (disabled), "http", "kafka"
	Type      string `toml:"type"`
	URL       string `toml:"url"`
	Key       string `toml:"key"`
	TimeoutMS int64  `toml:"timeout_ms"`
	QueueSize int64  `toml:"queue_size"`
	Workers   int64  `toml:"workers"`

	Kafka KafkaConfig `toml:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string `toml:"brokers"`
	Topic        string   `toml:"topic"`
	RequiredAcks string   `toml:"required_acks"`
}

type FilterType string

const (
	FilterTypeInclude FilterType = "include"
	FilterTypeExclude FilterType = "exclude"
)

type FilterLogic string

const (
	FilterLogicOr  FilterLogic = "or"
	FilterLogicAnd FilterLogic = "and"
)

// Regex drop rule applied to submissions before they are stored
type FilterConfig struct {
	Type     FilterType  `toml:"type"`
	Logic    FilterLogic `toml:"logic"`
	Patterns []string    `toml:"patterns"`
}
