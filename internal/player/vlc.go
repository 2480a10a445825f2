package player

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/signage/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	mprisPath      = "/org/mpris/MediaPlayer2"
	mprisRoot      = "org.mpris.MediaPlayer2"
	mprisPlayer    = "org.mpris.MediaPlayer2.Player"
	vlcBusName     = "org.mpris.MediaPlayer2.vlc"
	propsChanged   = "org.freedesktop.DBus.Properties.PropertiesChanged"
	statusStopped  = "Stopped"
	signalBuffer   = 16
	busPollEvery   = 100 * time.Millisecond
	defaultBusWait = 10 * time.Second
	quitGrace      = 3 * time.Second
)

// ErrNotOpen is returned when a command is sent before Open
var ErrNotOpen = errors.New("player window is not open")

// proc is a launched player process
type proc interface {
	Pid() int
	Kill() error
	Exited() <-chan struct{}
}

// VLCPlayer drives a VLC process through its MPRIS D-Bus interface.
// A PlaybackStatus change to Stopped is reported on EndOfMedia.
type VLCPlayer struct {
	logger  *zap.Logger
	binary  string
	busWait time.Duration
	connect func() (DBusClient, error)
	launch  func(binary string, args []string) (proc, error)
	ends    chan struct{}

	mu      sync.Mutex
	conn    DBusClient
	proc    proc
	busName string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewVLCPlayer creates a player using the configured binary
func NewVLCPlayer(logger *zap.Logger, cfg domain.Config) *VLCPlayer {
	return &VLCPlayer{
		logger:  logger,
		binary:  cfg.GetPlayerBinary(),
		busWait: defaultBusWait,
		connect: connectSessionBus,
		launch:  startProcess,
		ends:    make(chan struct{}, 1),
	}
}

// Open launches the player window at g, replacing any window already open
func (p *VLCPlayer) Open(ctx context.Context, g domain.Geometry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.proc != nil {
		if err := p.closeLocked(ctx); err != nil {
			p.logger.Warn("Failed to close previous player window", zap.Error(err))
		}
	}

	conn, err := p.connect()
	if err != nil {
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	pr, err := p.launch(p.binary, buildArgs(g))
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to start %s: %w", p.binary, err)
	}

	name, err := p.waitForBus(ctx, conn, pr)
	if err != nil {
		_ = pr.Kill()
		_ = conn.Close()
		return err
	}

	// Without an owner every sender's PropertiesChanged is accepted
	owner, err := conn.GetNameOwner(name)
	if err != nil {
		p.logger.Warn("Failed to resolve player bus owner", zap.String("name", name), zap.Error(err))
		owner = ""
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		_ = pr.Kill()
		_ = conn.Close()
		return fmt.Errorf("failed to add match signal: %w", err)
	}

	signals := make(chan *dbus.Signal, signalBuffer)
	conn.Signal(signals)

	watchCtx, cancel := context.WithCancel(context.Background())
	p.conn = conn
	p.proc = pr
	p.busName = name
	p.cancel = cancel

	p.wg.Add(1)
	go p.watch(watchCtx, signals, owner)

	p.logger.Info("Player window opened",
		zap.String("bus", name),
		zap.Int("pid", pr.Pid()),
		zap.Bool("fullscreen", g.FullScreen()))
	return nil
}

// Play replaces the current media with the file or URL at path
func (p *VLCPlayer) Play(ctx context.Context, path string) error {
	conn, name, err := p.target()
	if err != nil {
		return err
	}
	uri, err := toURI(path)
	if err != nil {
		return err
	}
	if err := conn.Call(ctx, name, mprisPath, mprisPlayer+".OpenUri", uri); err != nil {
		return fmt.Errorf("open %s: %w", uri, err)
	}
	return nil
}

// Stop halts the current media and keeps the window open. It is a no-op when no window is open.
func (p *VLCPlayer) Stop(ctx context.Context) error {
	conn, name, err := p.target()
	if errors.Is(err, ErrNotOpen) {
		return nil
	}
	if err != nil {
		return err
	}
	return conn.Call(ctx, name, mprisPath, mprisPlayer+".Stop")
}

// SetVolume sets the player volume, clamped to 0-100
func (p *VLCPlayer) SetVolume(_ context.Context, level int) error {
	conn, name, err := p.target()
	if err != nil {
		return err
	}
	level = min(max(level, 0), 100)
	return conn.SetProperty(name, mprisPath, mprisPlayer+".Volume", dbus.MakeVariant(float64(level)/100))
}

// Close quits the player process and releases the bus connection
func (p *VLCPlayer) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked(ctx)
}

// EndOfMedia emits once each time VLC reports the current media stopped at its end
func (p *VLCPlayer) EndOfMedia() <-chan struct{} {
	return p.ends
}

func (p *VLCPlayer) target() (DBusClient, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil, "", ErrNotOpen
	}
	return p.conn, p.busName, nil
}

func (p *VLCPlayer) closeLocked(ctx context.Context) error {
	if p.proc == nil {
		return nil
	}

	quitCtx, cancel := context.WithTimeout(ctx, quitGrace)
	defer cancel()

	var err error
	if callErr := p.conn.Call(quitCtx, p.busName, mprisPath, mprisRoot+".Quit"); callErr != nil {
		p.logger.Debug("Quit request failed", zap.Error(callErr))
	}
	select {
	case <-p.proc.Exited():
	case <-quitCtx.Done():
		p.logger.Warn("Player did not quit in time, killing it", zap.Int("pid", p.proc.Pid()))
		err = multierr.Append(err, p.proc.Kill())
	}

	p.cancel()
	err = multierr.Append(err, p.conn.Close())
	p.wg.Wait()

	p.conn = nil
	p.proc = nil
	p.busName = ""
	p.cancel = nil

	p.logger.Info("Player window closed")
	return err
}

// waitForBus polls until the launched process registers its MPRIS name
func (p *VLCPlayer) waitForBus(ctx context.Context, conn DBusClient, pr proc) (string, error) {
	instance := vlcBusName + ".instance" + strconv.Itoa(pr.Pid())
	deadline := time.NewTimer(p.busWait)
	defer deadline.Stop()
	ticker := time.NewTicker(busPollEvery)
	defer ticker.Stop()

	for {
		names, err := conn.ListNames()
		if err != nil {
			p.logger.Debug("Failed to list bus names", zap.Error(err))
		}
		if slices.Contains(names, instance) {
			return instance, nil
		}
		if slices.Contains(names, vlcBusName) {
			return vlcBusName, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-pr.Exited():
			return "", fmt.Errorf("%s exited before registering on the session bus", p.binary)
		case <-deadline.C:
			return "", fmt.Errorf("%s did not register on the session bus within %s", p.binary, p.busWait)
		case <-ticker.C:
		}
	}
}

func (p *VLCPlayer) watch(ctx context.Context, signals <-chan *dbus.Signal, owner string) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if sig != nil {
				p.handleSignal(sig, owner)
			}
		}
	}
}

// handleSignal reports end of media when the player's PlaybackStatus becomes Stopped
func (p *VLCPlayer) handleSignal(sig *dbus.Signal, owner string) {
	if sig.Name != propsChanged {
		return
	}
	if owner != "" && sig.Sender != owner {
		return
	}
	if len(sig.Body) < 2 {
		return
	}

	iface, ok := sig.Body[0].(string)
	if !ok || iface != mprisPlayer {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	statusVariant, ok := changed["PlaybackStatus"]
	if !ok {
		return
	}
	status, ok := statusVariant.Value().(string)
	if !ok {
		p.logger.Warn("Invalid playback status format in signal, ignoring")
		return
	}

	p.logger.Debug("Playback status changed", zap.String("status", status))
	if status != statusStopped {
		return
	}
	select {
	case p.ends <- struct{}{}:
	default:
	}
}

// buildArgs returns the command line for a window at g
func buildArgs(g domain.Geometry) []string {
	args := []string{
		"--intf", "dummy",
		"--control", "dbus",
		"--quiet",
		"--no-osd",
		"--no-video-title-show",
		"--no-loop",
		"--no-repeat",
		"--play-and-stop",
		"--image-duration=-1",
	}
	if g.FullScreen() {
		return append(args, "--fullscreen")
	}
	return append(args,
		"--no-video-deco",
		"--no-embedded-video",
		"--video-x="+strconv.Itoa(g.X),
		"--video-y="+strconv.Itoa(g.Y),
		"--width="+strconv.Itoa(g.Width),
		"--height="+strconv.Itoa(g.Height),
	)
}

// toURI turns a local path into a file URI and leaves URLs untouched
func toURI(path string) (string, error) {
	if strings.Contains(path, "://") {
		return path, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

type execProc struct {
	cmd    *exec.Cmd
	exited chan struct{}
}

func startProcess(binary string, args []string) (proc, error) {
	cmd := exec.Command(binary, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProc{cmd: cmd, exited: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

func (p *execProc) Pid() int                { return p.cmd.Process.Pid }
func (p *execProc) Kill() error             { return p.cmd.Process.Kill() }
func (p *execProc) Exited() <-chan struct{} { return p.exited }
