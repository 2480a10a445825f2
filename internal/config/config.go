package config

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	defaultDeviceFile  = "client.cfg"
	defaultCacheDir    = "cache"
	defaultStoreFile   = "signage.db"
	defaultTTSURL      = "http://127.0.0.1:8000/tts"
	defaultTTSLanguage = "ko"
	defaultPlayer      = "vlc"
)

// AppConfig holds process-level configuration read from the environment.
// Device identity lives in DeviceStore.
type AppConfig struct {
	logger           *zap.Logger
	deviceConfigPath string
	cacheDir         string
	storePath        string
	ttsURL           string
	ttsLanguage      string
	metricsAddr      string
	playerBinary     string
}

// NewAppConfig creates a new application configuration instance
func NewAppConfig(logger *zap.Logger) *AppConfig {
	base := executableDir()

	cfg := &AppConfig{
		logger:           logger,
		deviceConfigPath: pathFromEnv("SIGNAGE_CONFIG", filepath.Join(base, defaultDeviceFile)),
		cacheDir:         pathFromEnv("SIGNAGE_CACHE_DIR", filepath.Join(base, defaultCacheDir)),
		storePath:        pathFromEnv("SIGNAGE_STORE_PATH", filepath.Join(base, defaultStoreFile)),
		ttsURL:           envOr("SIGNAGE_TTS_URL", defaultTTSURL),
		ttsLanguage:      envOr("SIGNAGE_TTS_LANGUAGE", defaultTTSLanguage),
		metricsAddr:      os.Getenv("SIGNAGE_METRICS_ADDR"),
		playerBinary:     envOr("SIGNAGE_PLAYER", defaultPlayer),
	}

	logger.Info("Configuration loaded",
		zap.String("deviceConfig", cfg.deviceConfigPath),
		zap.String("cacheDir", cfg.cacheDir),
		zap.String("store", cfg.storePath),
		zap.String("ttsURL", cfg.ttsURL),
		zap.String("metricsAddr", cfg.metricsAddr),
		zap.String("player", cfg.playerBinary))

	return cfg
}

// GetDeviceConfigPath returns the path of the device identity file
func (c *AppConfig) GetDeviceConfigPath() string {
	return c.deviceConfigPath
}

// GetCacheDir returns the media cache directory
func (c *AppConfig) GetCacheDir() string {
	return c.cacheDir
}

// GetStorePath returns the path of the schedule snapshot database
func (c *AppConfig) GetStorePath() string {
	return c.storePath
}

// GetTTSURL returns the text-to-speech endpoint
func (c *AppConfig) GetTTSURL() string {
	return c.ttsURL
}

// GetTTSLanguage returns the language code sent with TTS requests
func (c *AppConfig) GetTTSLanguage() string {
	return c.ttsLanguage
}

// GetMetricsAddr returns the /metrics listen address, empty when disabled
func (c *AppConfig) GetMetricsAddr() string {
	return c.metricsAddr
}

// GetPlayerBinary returns the media player executable
func (c *AppConfig) GetPlayerBinary() string {
	return c.playerBinary
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// pathFromEnv reads a path variable and expands $VARS and a leading ~
func pathFromEnv(key, def string) string {
	p := envOr(key, def)
	p = os.ExpandEnv(p)
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

// executableDir is the directory of the running binary, or the working directory
// when it cannot be determined
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
