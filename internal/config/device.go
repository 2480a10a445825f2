package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/genricoloni/signage/internal/domain"
	"go.uber.org/zap"
)

var (
	// ErrTemplateCreated is returned when the device file was absent and a template was written in its place
	ErrTemplateCreated = errors.New("device config created from template, fill in HOST, API_KEY and DEVICE_ID and restart")

	// ErrMissingAPIKey is returned when the device file has no API key
	ErrMissingAPIKey = errors.New("device config has an empty API_KEY")
)

// DeviceConfig is the persisted device identity
type DeviceConfig struct {
	Host     string `json:"HOST"`
	APIKey   string `json:"API_KEY"`
	DeviceID string `json:"DEVICE_ID"`

	// MAC is derived from the network interfaces and never persisted
	MAC string `json:"-"`
}

func templateConfig() DeviceConfig {
	return DeviceConfig{
		Host:     "http://example.com:65000",
		APIKey:   "",
		DeviceID: "PC-CLIENT",
	}
}

// DeviceStore owns the device identity file. All mutation goes through it
// and is persisted before the call returns.
type DeviceStore struct {
	mu   sync.RWMutex
	path string
	cfg  DeviceConfig
}

// NewDeviceStore loads the device file named by the application configuration
func NewDeviceStore(logger *zap.Logger, cfg domain.Config) (*DeviceStore, error) {
	store, err := LoadDevice(cfg.GetDeviceConfigPath())
	if err != nil {
		return nil, err
	}

	snap := store.Snapshot()
	logger.Info("Device identity loaded",
		zap.String("path", cfg.GetDeviceConfigPath()),
		zap.String("host", snap.Host),
		zap.String("deviceID", snap.DeviceID),
		zap.String("mac", snap.MAC))

	return store, nil
}

// LoadDevice reads the device file at path. A missing file is replaced by a template
// and ErrTemplateCreated is returned.
func LoadDevice(path string) (*DeviceStore, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if werr := writeAtomic(path, templateConfig()); werr != nil {
			return nil, fmt.Errorf("failed to write config template: %w", werr)
		}
		return nil, fmt.Errorf("%s: %w", path, ErrTemplateCreated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read device config: %w", err)
	}

	var cfg DeviceConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid device config %s: %w", path, err)
	}

	cfg.Host = strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.DeviceID = strings.TrimSpace(cfg.DeviceID)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrMissingAPIKey)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("%s: HOST is empty", path)
	}
	cfg.MAC = macAddress()

	return &DeviceStore{path: path, cfg: cfg}, nil
}

// Snapshot returns a copy of the current identity
func (s *DeviceStore) Snapshot() DeviceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Rename changes the device id and persists it. Empty or unchanged ids are ignored.
func (s *DeviceStore) Rename(id string) error {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" || id == s.cfg.DeviceID {
		return nil
	}
	s.cfg.DeviceID = id
	if err := writeAtomic(s.path, s.cfg); err != nil {
		return fmt.Errorf("failed to persist device id: %w", err)
	}
	return nil
}

// writeAtomic writes cfg to a sibling temp file and renames it over path,
// so readers see either the old file or the new one
func writeAtomic(path string, cfg DeviceConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// macAddress returns the hardware address of the first non-loopback interface
// that has one, formatted aa:bb:cc:dd:ee:ff
func macAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "00:00:00:00:00:00"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		return strings.ToLower(iface.HardwareAddr.String())
	}
	return "00:00:00:00:00:00"
}
