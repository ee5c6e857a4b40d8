// FILE: chatwisp/src/cmd/chatwisp/commands/init.go
package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"chatwisp/src/internal/config"

	"github.com/spf13/pflag"
)

// InitCommand writes the default configuration as a starting config file
type InitCommand struct {
	output io.Writer
	errOut io.Writer
}

func NewInitCommand() *InitCommand {
	return &InitCommand{output: os.Stdout, errOut: os.Stderr}
}

func (c *InitCommand) Execute(args []string) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	fs.SetOutput(c.errOut)

	path := fs.StringP("output", "o", "chatwisp.toml", "Destination config file")
	force := fs.BoolP("force", "f", false, "Overwrite an existing file")
	backend := fs.String("backend", "", "Store backend to preselect")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if !*force {
		if _, err := os.Stat(*path); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", *path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to check %s: %w", *path, err)
		}
	}

	cfg, err := config.Defaults()
	if err != nil {
		return err
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
	}

	if err := cfg.SaveToFile(*path); err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Wrote default configuration to %s\n", *path)
	return nil
}

func (c *InitCommand) Description() string {
	return "Write a default configuration file"
}

func (c *InitCommand) Help() string {
	return `Init Command - Write a default configuration file

Usage:
  chatwisp init [options]

Options:
  -o, --output <path>   Destination file (default chatwisp.toml)
  -f, --force           Overwrite an existing file
      --backend <name>  Preselect store.backend (memory, file, upstash, postgres, pebble)
`
}
