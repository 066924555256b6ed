package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "blinksend"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "BLINKSEND_DATA_DIR"
	// DefaultRelayListen is the relay TCP listen address.
	DefaultRelayListen = ":7070"
	// DefaultChunkSize is the transfer chunk size in bytes.
	DefaultChunkSize = 16384
	// DefaultMaxFileSize is the largest incoming offer accepted, in bytes.
	DefaultMaxFileSize = 1 << 30
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
	// downloadsDirName is the default downloads directory under the data dir.
	downloadsDirName = "downloads"
)

// Config contains persistent local settings shared by the relay and peer commands.
type Config struct {
	InstallID     string `json:"install_id"`
	DisplayName   string `json:"display_name"`
	RelayAddress  string `json:"relay_address"`
	RelayListen   string `json:"relay_listen"`
	MetricsListen string `json:"metrics_listen"`
	AdvertiseMDNS bool   `json:"advertise_mdns"`
	DownloadsDir  string `json:"downloads_dir"`
	ChunkSize     int    `json:"chunk_size"`
	MaxFileSize   int64  `json:"max_file_size"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If BLINKSEND_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the data directory and the downloads directory.
func EnsureDataDirectories(dataDir, downloadsDir string) error {
	dirs := []string{dataDir}
	if downloadsDir != "" {
		dirs = append(dirs, downloadsDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate resolves the data directory and loads or creates its config.
func LoadOrCreate() (*Config, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	return LoadOrCreateIn(dataDir)
}

// LoadOrCreateIn ensures dataDir and its config exist, then returns both.
// Missing fields in an existing file are filled and persisted.
func LoadOrCreateIn(dataDir string) (*Config, string, error) {
	if err := EnsureDataDirectories(dataDir, ""); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	} else if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	if err := EnsureDataDirectories(dataDir, cfg.DownloadsDir); err != nil {
		return nil, "", err
	}
	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *Config {
	return &Config{
		InstallID:     uuid.NewString(),
		DisplayName:   defaultDisplayName(),
		RelayListen:   DefaultRelayListen,
		AdvertiseMDNS: true,
		DownloadsDir:  filepath.Join(dataDir, downloadsDirName),
		ChunkSize:     DefaultChunkSize,
		MaxFileSize:   DefaultMaxFileSize,
	}
}

func defaultDisplayName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "BlinkSend Peer"
}

func normalizeDefaults(cfg *Config, dataDir string) bool {
	updated := false

	if cfg.InstallID == "" {
		cfg.InstallID = uuid.NewString()
		updated = true
	}

	if cfg.DisplayName == "" {
		cfg.DisplayName = defaultDisplayName()
		updated = true
	}

	if cfg.RelayListen == "" {
		cfg.RelayListen = DefaultRelayListen
		updated = true
	}

	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = filepath.Join(dataDir, downloadsDirName)
		updated = true
	}

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
		updated = true
	}

	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
		updated = true
	}

	return updated
}
