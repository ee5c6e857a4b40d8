// FILE: chatwisp/src/cmd/chatwisp/commands/version.go
package commands

import (
	"fmt"

	"chatwisp/src/internal/version"
)

type VersionCommand struct{}

func NewVersionCommand() *VersionCommand {
	return &VersionCommand{}
}

func (c *VersionCommand) Execute(args []string) error {
	fmt.Println(version.String())
	return nil
}

func (c *VersionCommand) Description() string {
	return "Show version information"
}

func (c *VersionCommand) Help() string {
	return `Version Command - Show ChatWisp version information

Usage:
  chatwisp version
  chatwisp -v
  chatwisp --version

Output includes the version, git commit and build time when available.
`
}
