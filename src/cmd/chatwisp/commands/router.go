// FILE: chatwisp/src/cmd/chatwisp/commands/router.go
package commands

import (
	"fmt"
	"io"
	"os"
)

// Handler defines the interface required for all subcommands.
type Handler interface {
	Execute(args []string) error
	Description() string
	Help() string
}

// CommandRouter dispatches CLI arguments to subcommand handlers.
type CommandRouter struct {
	commands map[string]Handler
	output   io.Writer
}

func NewCommandRouter() *CommandRouter {
	router := &CommandRouter{
		commands: make(map[string]Handler),
		output:   os.Stdout,
	}

	router.commands["keygen"] = NewKeygenCommand()
	router.commands["init"] = NewInitCommand()
	router.commands["version"] = NewVersionCommand()
	router.commands["help"] = NewHelpCommand(router)

	return router
}

// Route executes a subcommand if args name one. It reports false when the
// arguments belong to the service itself.
func (r *CommandRouter) Route(args []string) (bool, error) {
	if len(args) < 2 {
		return false, nil
	}

	cmdName := args[1]
	if cmdName == "" || cmdName[0] == '-' {
		return false, nil
	}

	handler, exists := r.commands[cmdName]
	if !exists {
		return false, fmt.Errorf("unknown command: %s\n\nRun 'chatwisp help' for usage", cmdName)
	}

	if cmdName != "help" {
		for _, arg := range args[2:] {
			if arg == "-h" || arg == "--help" {
				fmt.Fprint(r.output, handler.Help())
				return true, nil
			}
		}
	}

	return true, handler.Execute(args[2:])
}

func (r *CommandRouter) GetCommand(name string) (Handler, bool) {
	cmd, exists := r.commands[name]
	return cmd, exists
}

func (r *CommandRouter) GetCommands() map[string]Handler {
	return r.commands
}
