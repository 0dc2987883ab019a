package commandmanager

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LocalCommandManager runs commands on the local system.
type LocalCommandManager struct {
	Logger *logrus.Logger
}

func (l *LocalCommandManager) Run(ctx context.Context, config CommandConfig) (CommandResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, config.Command, config.Args...)
	if len(config.Env) > 0 {
		cmd.Env = append(os.Environ(), config.Env...)
	}
	if config.Dir != "" {
		cmd.Dir = config.Dir
	}
	if config.Stdin != "" {
		cmd.Stdin = strings.NewReader(config.Stdin)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if l.Logger != nil {
		l.Logger.WithFields(logrus.Fields{
			"command": config.Command,
			"args":    strings.Join(config.Args, " "),
		}).Debug("Running local command")
	}

	err := cmd.Run()

	result := CommandResult{
		Command:   config.Command + " " + strings.Join(config.Args, " "),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  getExitCode(err),
		Duration:  time.Since(start),
		Timestamp: start,
	}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if err != nil {
		return result, &CommandError{Result: result, Err: err}
	}
	return result, nil
}

func getExitCode(err error) int {
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			return exitError.ExitCode()
		}
		return -1
	}
	return 0
}
