// FILE: chatwisp/src/internal/config/validation.go
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	lconfig "github.com/lixenwraith/config"
)

// validateConfig is the centralized validator for the entire configuration.
// Zero values left by partial config files are replaced with defaults here.
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if err := validateLogConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if cfg.TCP.Enabled {
		if err := validateTCP(&cfg.TCP, cfg.Server.Port); err != nil {
			return fmt.Errorf("tcp config: %w", err)
		}
	}
	if err := validateStore(&cfg.Store); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := validateIngest(&cfg.Ingest); err != nil {
		return fmt.Errorf("ingest config: %w", err)
	}
	if err := validateQuery(&cfg.Query); err != nil {
		return fmt.Errorf("query config: %w", err)
	}
	if err := validateStream(&cfg.Stream); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}
	if err := validateForward(&cfg.Forward); err != nil {
		return fmt.Errorf("forward config: %w", err)
	}

	return nil
}

func validateServer(s *ServerConfig) error {
	if err := lconfig.Port(s.Port); err != nil {
		return err
	}
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Host != "0.0.0.0" {
		if err := lconfig.IPAddress(s.Host); err != nil {
			return err
		}
	}
	if s.MaxBodySize <= 0 {
		s.MaxBodySize = 1 * 1024 * 1024
	}
	if s.ReadTimeoutMS < 0 || s.WriteTimeoutMS < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if s.TLS.Enabled {
		if err := lconfig.NonEmpty(s.TLS.CertFile); err != nil {
			return fmt.Errorf("tls requires cert_file")
		}
		if err := lconfig.NonEmpty(s.TLS.KeyFile); err != nil {
			return fmt.Errorf("tls requires key_file")
		}
	}

	if s.RateLimit.Enabled {
		if s.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit requests_per_second must be positive")
		}
		if s.RateLimit.BurstSize < 1 {
			s.RateLimit.BurstSize = int64(s.RateLimit.RequestsPerSecond) + 1
		}
		if s.RateLimit.CleanupIntervalSeconds < 1 {
			s.RateLimit.CleanupIntervalSeconds = 60
		}
	}

	return nil
}

func validateTCP(t *TCPConfig, httpPort int64) error {
	if err := lconfig.Port(t.Port); err != nil {
		return err
	}
	if t.Port == httpPort {
		return fmt.Errorf("tcp port %d conflicts with http port", t.Port)
	}
	if t.Host == "" {
		t.Host = "0.0.0.0"
	}
	if t.MaxLineBytes <= 0 {
		t.MaxLineBytes = 1 * 1024 * 1024
	}
	return nil
}

func validateStore(s *StoreConfig) error {
	if s.MaxEntries < 1 {
		return fmt.Errorf("max_entries must be at least 1: %d", s.MaxEntries)
	}
	if s.MaxErrors < 1 {
		s.MaxErrors = s.MaxEntries
	}

	switch s.Backend {
	case "memory":
	case "file":
		if err := lconfig.NonEmpty(s.File.Directory); err != nil {
			return fmt.Errorf("file backend requires 'directory'")
		}
		if err := lconfig.NonEmpty(s.File.Name); err != nil {
			return fmt.Errorf("file backend requires 'name'")
		}
		if strings.ContainsAny(s.File.Name, `/\`) {
			return fmt.Errorf("file backend name must not contain path separators: %s", s.File.Name)
		}
		if s.File.Name == "errors" {
			return fmt.Errorf("file backend name 'errors' is reserved for the error journal")
		}
	case "upstash":
		if err := lconfig.NonEmpty(s.Upstash.URL); err != nil {
			return fmt.Errorf("upstash backend requires 'url'")
		}
		if err := lconfig.NonEmpty(s.Upstash.Token); err != nil {
			return fmt.Errorf("upstash backend requires 'token'")
		}
		if err := lconfig.NonEmpty(s.Upstash.Key); err != nil {
			return fmt.Errorf("upstash backend requires 'key'")
		}
		if err := validateHTTPURL(s.Upstash.URL); err != nil {
			return fmt.Errorf("upstash url: %w", err)
		}
		if s.Upstash.TimeoutMS <= 0 {
			s.Upstash.TimeoutMS = 5000
		}
	case "postgres":
		if err := lconfig.NonEmpty(s.Postgres.DSN); err != nil {
			return fmt.Errorf("postgres backend requires 'dsn'")
		}
		if !identPattern.MatchString(s.Postgres.Table) {
			return fmt.Errorf("invalid postgres table name: %q", s.Postgres.Table)
		}
	case "pebble":
		if err := lconfig.NonEmpty(s.Pebble.Directory); err != nil {
			return fmt.Errorf("pebble backend requires 'directory'")
		}
	default:
		return fmt.Errorf("unknown backend '%s' (valid: memory, file, upstash, postgres, pebble)", s.Backend)
	}

	return nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func validateIngest(i *IngestConfig) error {
	if i.MaxFieldLength < 1 {
		return fmt.Errorf("max_field_length must be positive: %d", i.MaxFieldLength)
	}
	for idx := range i.Filters {
		if err := validateFilter(idx, &i.Filters[idx]); err != nil {
			return err
		}
	}
	return nil
}

func validateFilter(filterIndex int, cfg *FilterConfig) error {
	switch cfg.Type {
	case FilterTypeInclude, FilterTypeExclude, "":
	default:
		return fmt.Errorf("filter[%d]: invalid type '%s' (must be 'include' or 'exclude')",
			filterIndex, cfg.Type)
	}

	switch cfg.Logic {
	case FilterLogicOr, FilterLogicAnd, "":
	default:
		return fmt.Errorf("filter[%d]: invalid logic '%s' (must be 'or' or 'and')",
			filterIndex, cfg.Logic)
	}

	for i, pattern := range cfg.Patterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("filter[%d] pattern[%d] '%s': invalid regex: %w",
				filterIndex, i, pattern, err)
		}
	}

	return nil
}

func validateQuery(q *QueryConfig) error {
	if q.MaxLimit < 1 {
		return fmt.Errorf("max_limit must be positive: %d", q.MaxLimit)
	}
	if q.DefaultLimit < 1 {
		return fmt.Errorf("default_limit must be positive: %d", q.DefaultLimit)
	}
	if q.DefaultLimit > q.MaxLimit {
		return fmt.Errorf("default_limit %d exceeds max_limit %d", q.DefaultLimit, q.MaxLimit)
	}
	return nil
}

func validateStream(s *StreamConfig) error {
	if s.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be positive: %d", s.BufferSize)
	}
	if s.ReplayLimit < 0 {
		return fmt.Errorf("replay_limit cannot be negative: %d", s.ReplayLimit)
	}
	if s.Heartbeat.IntervalSeconds < 1 {
		return fmt.Errorf("heartbeat interval must be positive: %d", s.Heartbeat.IntervalSeconds)
	}
	return nil
}

func validateForward(f *ForwardConfig) error {
	if f.QueueSize < 1 {
		f.QueueSize = 1000
	}
	if f.Workers < 1 {
		f.Workers = 1
	}
	if f.TimeoutMS <= 0 {
		f.TimeoutMS = 5000
	}

	switch f.Type {
	case "", "none":
		f.Type = ""
	case "http":
		if err := lconfig.NonEmpty(f.URL); err != nil {
			return fmt.Errorf("http forwarder requires 'url'")
		}
		if err := validateHTTPURL(f.URL); err != nil {
			return err
		}
	case "kafka":
		if len(f.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka forwarder requires 'brokers'")
		}
		if err := lconfig.NonEmpty(f.Kafka.Topic); err != nil {
			return fmt.Errorf("kafka forwarder requires 'topic'")
		}
		switch f.Kafka.RequiredAcks {
		case "", "none", "one", "all":
		default:
			return fmt.Errorf("invalid kafka required_acks: %s", f.Kafka.RequiredAcks)
		}
	default:
		return fmt.Errorf("unknown forward type '%s' (valid: http, kafka)", f.Type)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme")
	}
	return nil
}
