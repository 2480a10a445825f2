//go:build !linux && !windows
// +build !linux,!windows

package executor

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

// StubExecutor covers macOS and the BSDs. Volume and audio use the macOS tools when present.
type StubExecutor struct {
	logger *zap.Logger
	audio  ShellCommand
	volume ShellCommand
	run    runner
}

// NewExecutor creates the executor for platforms without xrandr support
func NewExecutor(logger *zap.Logger) (*StubExecutor, error) {
	logger.Warn("Display settings are not implemented for this platform")
	return &StubExecutor{
		logger: logger,
		audio: detectCommand(logger, "audio", []ShellCommand{
			{Name: "afplay", Binary: "afplay", Args: []string{"%s"}},
		}, commandExists),
		volume: detectCommand(logger, "volume", []ShellCommand{
			{Name: "osascript", Binary: "osascript", Args: []string{"-e", "set volume %s"}},
		}, commandExists),
		run: combinedOutput,
	}, nil
}

// ApplyDisplaySettings is not supported on this platform
func (e *StubExecutor) ApplyDisplaySettings(ctx context.Context, resolution string, orientation *int) error {
	return fmt.Errorf("display settings not implemented for this platform")
}

// SetSystemVolume maps 0-100 onto the 0-10 AppleScript scale
func (e *StubExecutor) SetSystemVolume(ctx context.Context, level int) error {
	scaled := strconv.FormatFloat(float64(clampVolume(level))/10, 'f', 1, 64)
	if err := e.volume.run(ctx, e.run, scaled); err != nil {
		return fmt.Errorf("set system volume: %w", err)
	}
	return nil
}

// PlayFile plays path with the detected audio command and blocks until it ends
func (e *StubExecutor) PlayFile(ctx context.Context, path string) error {
	if err := e.audio.run(ctx, e.run, path); err != nil {
		return fmt.Errorf("play %s: %w", path, err)
	}
	return nil
}
