// FILE: chatwisp/src/cmd/chatwisp/flags.go
package main

import (
	"strings"

	"github.com/spf13/pflag"
)

// Process-level flags; everything else goes to the config loader
type FlagConfig struct {
	ConfigFile            string
	Quiet                 bool
	ShowVersion           bool
	ShowHelp              bool
	DisableStatusReporter bool
}

// Flag names owned by the process, mapped to whether they take a value
var processFlags = map[string]bool{
	"config":                  true,
	"c":                       true,
	"quiet":                   false,
	"q":                       false,
	"version":                 false,
	"v":                       false,
	"help":                    false,
	"h":                       false,
	"disable-status-reporter": false,
}

// Parses process flags and returns the remaining arguments for the config loader
func ParseFlags(args []string) (*FlagConfig, []string, error) {
	own, rest := splitArgs(args)

	cfg := &FlagConfig{}
	fs := pflag.NewFlagSet("chatwisp", pflag.ContinueOnError)
	fs.StringVarP(&cfg.ConfigFile, "config", "c", "", "Path to configuration file")
	fs.BoolVarP(&cfg.Quiet, "quiet", "q", false, "Suppress all console output")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVarP(&cfg.ShowHelp, "help", "h", false, "Show help")
	fs.BoolVar(&cfg.DisableStatusReporter, "disable-status-reporter", false, "Disable the periodic status log")

	if err := fs.Parse(own); err != nil {
		return nil, nil, err
	}
	return cfg, rest, nil
}

// Separates process flags from config overrides such as --server.port=9000
func splitArgs(args []string) (own, rest []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, hasValue := flagName(arg)
		takesValue, ok := processFlags[name]
		if !ok {
			rest = append(rest, arg)
			continue
		}

		own = append(own, arg)
		if takesValue && !hasValue && i+1 < len(args) {
			i++
			own = append(own, args[i])
		}
	}
	return own, rest
}

func flagName(arg string) (string, bool) {
	if !strings.HasPrefix(arg, "-") {
		return "", false
	}
	name := strings.TrimLeft(arg, "-")
	name, _, hasValue := strings.Cut(name, "=")
	return name, hasValue
}
