//go:build windows
// +build windows

package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// WindowsExecutor is the Windows implementation. Display and mixer control are not available yet.
type WindowsExecutor struct {
	logger *zap.Logger
	audio  ShellCommand
	run    runner
}

// NewExecutor creates the platform-specific executor (Windows implementation)
func NewExecutor(logger *zap.Logger) (*WindowsExecutor, error) {
	logger.Info("Windows executor initialized")
	candidates := []ShellCommand{
		{Name: "ffplay", Binary: "ffplay", Args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet", "%s"}},
		{Name: "vlc", Binary: "vlc", Args: []string{"-I", "dummy", "--play-and-exit", "%s"}},
	}
	return &WindowsExecutor{
		logger: logger,
		audio:  detectCommand(logger, "audio", candidates, commandExists),
		run:    combinedOutput,
	}, nil
}

// ApplyDisplaySettings is not implemented on Windows
func (e *WindowsExecutor) ApplyDisplaySettings(ctx context.Context, resolution string, orientation *int) error {
	return fmt.Errorf("display settings not yet implemented for Windows")
}

// SetSystemVolume is not implemented on Windows
func (e *WindowsExecutor) SetSystemVolume(ctx context.Context, level int) error {
	return fmt.Errorf("system volume not yet implemented for Windows")
}

// PlayFile plays path with the detected audio command and blocks until it ends
func (e *WindowsExecutor) PlayFile(ctx context.Context, path string) error {
	if err := e.audio.run(ctx, e.run, path); err != nil {
		return fmt.Errorf("play %s: %w", path, err)
	}
	return nil
}
