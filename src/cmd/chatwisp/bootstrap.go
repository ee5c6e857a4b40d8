// FILE: chatwisp/src/cmd/chatwisp/bootstrap.go
package main

import (
	"context"
	"fmt"
	"strings"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/service"
	"chatwisp/src/internal/version"

	"github.com/lixenwraith/log"
)

// Creates and starts the relay service
func bootstrapService(ctx context.Context, cfg *config.Config) (*service.Service, error) {
	svc, err := service.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := svc.Start(); err != nil {
		svc.Shutdown(ctx)
		return nil, err
	}

	displayEndpoints(cfg)

	logger.Info("msg", "ChatWisp started",
		"version", version.Short(),
		"store", cfg.Store.Backend)
	return svc, nil
}

// Sets up the logger based on configuration
func initializeLogger(cfg *config.Config) error {
	logger = log.NewLogger()

	var configArgs []string

	if cfg.Quiet {
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=false",
			"level=255")

		return logger.InitWithDefaults(configArgs...)
	}

	levelValue, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	configArgs = append(configArgs, fmt.Sprintf("level=%d", levelValue))

	switch cfg.Logging.Output {
	case "none":
		configArgs = append(configArgs, "disable_file=true", "enable_stdout=false")

	case "stdout":
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=true",
			"stdout_target=stdout")

	case "stderr":
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=true",
			"stdout_target=stderr")

	case "file":
		configArgs = append(configArgs, "enable_stdout=false")
		configArgs = append(configArgs, fileLoggingArgs(cfg.Logging.File)...)

	case "both":
		configArgs = append(configArgs, "enable_stdout=true")
		configArgs = append(configArgs, fileLoggingArgs(cfg.Logging.File)...)
		configArgs = append(configArgs, consoleTargetArgs(cfg.Logging.Console)...)

	default:
		return fmt.Errorf("invalid log output mode: %s", cfg.Logging.Output)
	}

	if cfg.Logging.Console.Format != "" {
		configArgs = append(configArgs, fmt.Sprintf("format=%s", cfg.Logging.Console.Format))
	}

	return logger.InitWithDefaults(configArgs...)
}

func fileLoggingArgs(file config.LogFileConfig) []string {
	args := []string{
		fmt.Sprintf("directory=%s", file.Directory),
		fmt.Sprintf("name=%s", file.Name),
		fmt.Sprintf("max_size_mb=%d", file.MaxSizeMB),
		fmt.Sprintf("max_total_size_mb=%d", file.MaxTotalSizeMB),
	}
	if file.RetentionHours > 0 {
		args = append(args, fmt.Sprintf("retention_period_hrs=%.1f", file.RetentionHours))
	}
	return args
}

func consoleTargetArgs(console config.LogConsoleConfig) []string {
	target := console.Target
	if target == "" {
		target = "stderr"
	}
	if target == "split" {
		return []string{"stdout_split_mode=true", "stdout_target=split"}
	}
	return []string{fmt.Sprintf("stdout_target=%s", target)}
}

func parseLogLevel(level string) (int, error) {
	switch strings.ToLower(level) {
	case "debug":
		return int(log.LevelDebug), nil
	case "info":
		return int(log.LevelInfo), nil
	case "warn", "warning":
		return int(log.LevelWarn), nil
	case "error":
		return int(log.LevelError), nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", level)
	}
}

// Logs the listening endpoints
func displayEndpoints(cfg *config.Config) {
	scheme := "http"
	if cfg.Server.TLS.Enabled {
		scheme = "https"
	}
	host := cfg.Server.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	base := fmt.Sprintf("%s://%s:%d", scheme, host, cfg.Server.Port)

	logger.Info("msg", "HTTP endpoints configured",
		"component", "main",
		"ingest_url", base+"/logs",
		"stream_url", base+"/logs/stream",
		"status_url", base+"/status",
		"write_key_required", cfg.Ingest.WriteKey != "",
		"view_key_required", cfg.Query.ViewKey != "" || cfg.Query.JWT.SigningKey != "")

	if cfg.TCP.Enabled {
		logger.Info("msg", "TCP ingest configured",
			"component", "main",
			"listen", fmt.Sprintf("%s:%d", cfg.TCP.Host, cfg.TCP.Port))
	}

	if cfg.Forward.Type != "" {
		target := cfg.Forward.URL
		if cfg.Forward.Type == "kafka" {
			target = cfg.Forward.Kafka.Topic
		}
		logger.Info("msg", "Forwarding enabled",
			"component", "main",
			"type", cfg.Forward.Type,
			"target", target)
	}

	if len(cfg.Ingest.Filters) > 0 {
		logger.Info("msg", "Drop rules configured",
			"component", "main",
			"filter_count", len(cfg.Ingest.Filters))
	}
}
