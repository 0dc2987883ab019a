// Package commandmanager executes external commands, either on the local
// system or on a remote host over SSH. It carries the caller-supplied
// environment explicitly so the eups toolchain always runs with a known
// configuration.
package commandmanager

import (
	"context"
	"fmt"
	"time"
)

// CommandConfig describes one command invocation.
type CommandConfig struct {
	Command string
	Args    []string

	// Env holds extra KEY=VALUE pairs applied on top of the inherited
	// environment. Later entries win.
	Env []string

	// Dir, if non-empty, is the working directory for the command. Only
	// honoured by the local runner.
	Dir string

	// Stdin, if non-empty, is fed to the command's standard input.
	Stdin string
}

// CommandResult captures the outcome of a command execution.
type CommandResult struct {
	Command   string
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	Timestamp time.Time
}

// CommandManager runs commands. Implementations must honour the context
// deadline; a stack update must never block indefinitely on a wedged child
// process or connection.
type CommandManager interface {
	Run(ctx context.Context, config CommandConfig) (CommandResult, error)
}

// CommandError is returned when a command exits non-zero. It keeps the
// command line and captured output attached so failures surface with enough
// detail to diagnose from the batch log.
type CommandError struct {
	Result CommandResult
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed with exit code %d", e.Result.Command, e.Result.ExitCode)
	if e.Result.Stderr != "" {
		msg += ": " + e.Result.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
