// FILE: chatwisp/src/cmd/chatwisp/commands/help.go
package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

const generalHelpTemplate = `ChatWisp: chat log relay with live streaming.

Usage:
  chatwisp [command] [options]
  chatwisp [options] [--section.key=value ...]

Commands:
%s

Application Options:
  -c, --config <path>      Path to configuration file (default: chatwisp.toml)
  -h, --help               Display this help message and exit
  -v, --version            Display version information and exit
  -q, --quiet              Suppress all console output, including errors

Runtime Options:
  --disable-status-reporter  Disable the periodic status reporter

Any other --section.key=value argument overrides the matching config value,
for example --server.port=8080 or --store.backend=memory.

Configuration Sources (Precedence: CLI > Env > File > Defaults):
  - CLI flags override all other settings
  - CHATWISP_ environment variables override file settings
  - TOML configuration file is the primary method

Examples:
  # Start with a config file
  chatwisp -c /etc/chatwisp/chatwisp.toml

  # Keep entries in memory only, on another port
  chatwisp --store.backend=memory --server.port=9000

  # Write a starter config, then generate a hashed write key
  chatwisp init -o chatwisp.toml
  chatwisp keygen --hash
`

// Renders the general help text
func GeneralHelp(router *CommandRouter) string {
	return fmt.Sprintf(generalHelpTemplate, formatCommandList(router.GetCommands()))
}

type HelpCommand struct {
	router *CommandRouter
	output io.Writer
}

func NewHelpCommand(router *CommandRouter) *HelpCommand {
	return &HelpCommand{router: router, output: os.Stdout}
}

func (c *HelpCommand) Execute(args []string) error {
	if len(args) > 0 && args[0] != "" {
		if handler, exists := c.router.GetCommand(args[0]); exists {
			fmt.Fprint(c.output, handler.Help())
			return nil
		}
		return fmt.Errorf("unknown command: %s", args[0])
	}

	fmt.Fprint(c.output, GeneralHelp(c.router))
	return nil
}

func (c *HelpCommand) Description() string {
	return "Display help information"
}

func (c *HelpCommand) Help() string {
	return `Help Command - Display help information

Usage:
  chatwisp help              Show general help
  chatwisp help <command>    Show help for a specific command

Examples:
  chatwisp help keygen
  chatwisp keygen --help
`
}

// Aligned, sorted command list
func formatCommandList(commands map[string]Handler) string {
	names := make([]string, 0, len(commands))
	maxLen := 0
	for name := range commands {
		names = append(names, name)
		if len(name) > maxLen {
			maxLen = len(name)
		}
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		padding := strings.Repeat(" ", maxLen-len(name)+2)
		lines = append(lines, fmt.Sprintf("  %s%s%s", name, padding, commands[name].Description()))
	}
	return strings.Join(lines, "\n")
}
