package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ShellCommand is an external tool invocation. "%s" in Args is replaced by the argument.
type ShellCommand struct {
	Name   string
	Binary string
	Args   []string
}

// runner executes a command and returns its combined output
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func combinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// commandExists checks if a binary exists in PATH
func commandExists(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

// detectCommand returns the first candidate whose binary is installed
func detectCommand(logger *zap.Logger, kind string, candidates []ShellCommand, exists func(string) bool) ShellCommand {
	for _, cmd := range candidates {
		if exists(cmd.Binary) {
			logger.Info("External command detected",
				zap.String("kind", kind),
				zap.String("name", cmd.Name),
				zap.String("binary", cmd.Binary))
			return cmd
		}
	}
	logger.Warn("No external command found", zap.String("kind", kind))
	return ShellCommand{}
}

func (c ShellCommand) expand(value string) []string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = strings.ReplaceAll(arg, "%s", value)
	}
	return args
}

// run executes c with value substituted into its arguments
func (c ShellCommand) run(ctx context.Context, do runner, value string) error {
	if c.Binary == "" {
		return fmt.Errorf("no command available")
	}
	output, err := do(ctx, c.Binary, c.expand(value)...)
	if err != nil {
		return fmt.Errorf("%s failed: %w (output: %s)", c.Name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
