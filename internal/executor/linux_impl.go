//go:build linux
// +build linux

package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

var (
	// Ordered list of audio players to try (highest priority first)
	audioCommands = []ShellCommand{
		{Name: "mpg123", Binary: "mpg123", Args: []string{"-q", "%s"}},
		{Name: "ffplay", Binary: "ffplay", Args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet", "%s"}},
		{Name: "mpv", Binary: "mpv", Args: []string{"--no-video", "--really-quiet", "%s"}},
		{Name: "cvlc", Binary: "cvlc", Args: []string{"--play-and-exit", "--quiet", "%s"}},
	}

	// Ordered list of mixer commands; %s is the level in percent
	volumeCommands = []ShellCommand{
		{Name: "amixer", Binary: "amixer", Args: []string{"-q", "sset", "Master", "%s%"}},
		{Name: "pactl", Binary: "pactl", Args: []string{"set-sink-volume", "@DEFAULT_SINK@", "%s%"}},
		{Name: "wpctl", Binary: "wpctl", Args: []string{"set-volume", "@DEFAULT_AUDIO_SINK@", "%s%"}},
	}
)

// LinuxExecutor applies display, volume and audio requests through command-line tools
type LinuxExecutor struct {
	logger *zap.Logger
	audio  ShellCommand
	volume ShellCommand
	run    runner
}

// NewExecutor creates the platform-specific executor (Linux implementation)
func NewExecutor(logger *zap.Logger) (*LinuxExecutor, error) {
	return &LinuxExecutor{
		logger: logger,
		audio:  detectCommand(logger, "audio", audioCommands, commandExists),
		volume: detectCommand(logger, "volume", volumeCommands, commandExists),
		run:    combinedOutput,
	}, nil
}

// ApplyDisplaySettings sets the mode and rotation of the primary output with xrandr.
// Invalid values are logged and skipped.
func (e *LinuxExecutor) ApplyDisplaySettings(ctx context.Context, resolution string, orientation *int) error {
	args, ok := e.xrandrArgs(resolution, orientation)
	if !ok {
		return nil
	}

	query, err := e.run(ctx, "xrandr", "--query")
	if err != nil {
		return fmt.Errorf("xrandr query failed: %w", err)
	}
	output := primaryOutput(string(query))
	if output == "" {
		return errors.New("no connected display output")
	}

	args = append([]string{"--output", output}, args...)
	e.logger.Debug("Applying display settings", zap.Strings("args", args))

	if out, err := e.run(ctx, "xrandr", args...); err != nil {
		return fmt.Errorf("xrandr failed: %w (output: %s)", err, string(out))
	}

	e.logger.Info("Display settings applied",
		zap.String("output", output),
		zap.String("resolution", resolution))
	return nil
}

func (e *LinuxExecutor) xrandrArgs(resolution string, orientation *int) ([]string, bool) {
	var args []string
	if resolution != "" {
		if w, h, ok := ParseResolution(resolution); ok {
			args = append(args, "--mode", fmt.Sprintf("%dx%d", w, h))
		} else {
			e.logger.Warn("Ignoring invalid resolution", zap.String("resolution", resolution))
		}
	}
	if orientation != nil {
		if deg, ok := NormalizeOrientation(*orientation); ok {
			args = append(args, "--rotate", rotationName(deg))
		} else {
			e.logger.Warn("Ignoring invalid orientation", zap.Int("orientation", *orientation))
		}
	}
	return args, len(args) > 0
}

// SetSystemVolume sets the master output volume, clamped to 0-100
func (e *LinuxExecutor) SetSystemVolume(ctx context.Context, level int) error {
	level = clampVolume(level)
	if err := e.volume.run(ctx, e.run, strconv.Itoa(level)); err != nil {
		return fmt.Errorf("set system volume: %w", err)
	}
	e.logger.Debug("System volume set", zap.String("command", e.volume.Name), zap.Int("level", level))
	return nil
}

// PlayFile plays an audio file and blocks until it finishes or ctx is cancelled
func (e *LinuxExecutor) PlayFile(ctx context.Context, path string) error {
	e.logger.Debug("Playing audio file", zap.String("command", e.audio.Name), zap.String("path", path))
	if err := e.audio.run(ctx, e.run, path); err != nil {
		return fmt.Errorf("play %s: %w", path, err)
	}
	return nil
}
