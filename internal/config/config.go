package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir         string `yaml:"data_dir"`
	ListenAddr      string `yaml:"listen_addr"`
	Compression     string `yaml:"compression"`
	ArchiveKeep     int    `yaml:"archive_keep"`
	UndoDepth       int    `yaml:"undo_depth"`
	MaxEdit         int    `yaml:"max_edit"`
	AutosaveSeconds int    `yaml:"autosave_seconds"`

	Index     Index     `yaml:"index"`
	Mirror    Mirror    `yaml:"mirror"`
	EditLog   EditLog   `yaml:"edit_log"`
	Log       Log       `yaml:"log"`
	ViewCache ViewCache `yaml:"view_cache"`
}

// Index.Path defaults to <data_dir>/index.db. RemoteEndpoint, when set,
// mirrors the index to an HTTP ingest service.
type Index struct {
	Enabled        bool   `yaml:"enabled"`
	Path           string `yaml:"path"`
	RemoteEndpoint string `yaml:"remote_endpoint"`
	RemoteToken    string `yaml:"remote_token"`
}

// Mirror uploads saved snapshots to an S3-compatible bucket when Endpoint
// is set. Credentials come from the environment, not the file.
type Mirror struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
}

type EditLog struct {
	Enabled bool `yaml:"enabled"`
}

type Log struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type ViewCache struct {
	// MaxCost is the cache budget in encoded response bytes; 0 disables it.
	MaxCost int64 `yaml:"max_cost"`
}

func Default() Config {
	return Config{
		DataDir:         "./data",
		ListenAddr:      ":8080",
		Compression:     "default",
		ArchiveKeep:     10,
		UndoDepth:       256,
		MaxEdit:         65536,
		AutosaveSeconds: 30,
		Index:           Index{Enabled: true},
		EditLog:         EditLog{Enabled: true},
		Log: Log{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
		ViewCache: ViewCache{MaxCost: 64 << 20},
	}
}

// Load overlays the YAML file at path on Default and validates the result.
func Load(path string) (Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config.yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("config.yaml: %w", err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.Compression {
	case "", "fastest", "default", "better", "best":
	default:
		return fmt.Errorf("compression %q must be one of fastest|default|better|best", c.Compression)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	if c.ArchiveKeep < 0 {
		return fmt.Errorf("archive_keep must be >= 0")
	}
	if c.UndoDepth < 0 {
		return fmt.Errorf("undo_depth must be >= 0")
	}
	if c.MaxEdit < 0 {
		return fmt.Errorf("max_edit must be >= 0")
	}
	if c.AutosaveSeconds < 0 {
		return fmt.Errorf("autosave_seconds must be >= 0")
	}
	if c.Mirror.Endpoint != "" && c.Mirror.Bucket == "" {
		return fmt.Errorf("mirror.bucket is required with mirror.endpoint")
	}
	if c.ViewCache.MaxCost < 0 {
		return fmt.Errorf("view_cache.max_cost must be >= 0")
	}
	return nil
}

// AutosaveInterval is zero when autosave is off.
func (c Config) AutosaveInterval() time.Duration {
	return time.Duration(c.AutosaveSeconds) * time.Second
}

func (c Config) MapsDir() string { return filepath.Join(c.DataDir, "maps") }

func (c Config) IndexPath() string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return filepath.Join(c.DataDir, "index.db")
}
