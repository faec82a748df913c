package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/openmined/searchsync/internal/searchindex"
	"github.com/openmined/searchsync/internal/utils"
	"github.com/spf13/viper"
)

const (
	ConfigName          = "searchsync"
	EnvPrefix           = "SEARCHSYNC"
	DefaultPostsDir     = "source/_posts"
	DefaultMirrorPath   = "search-local.json"
	DefaultSyncInterval = 30 * time.Second
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigDir   = filepath.Join(home, ".searchsync")
	DefaultConfigPath  = filepath.Join(DefaultConfigDir, ConfigName+".json")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "searchsync.log")
	DefaultFields      = []string{"title", "date", "tags", "categories", "excerpt:strip", "permalink"}
)

var (
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	ErrInvalidInterval  = errors.New("sync interval must be positive")
)

type Config struct {
	AppID        string
	AdminAPIKey  string
	IndexName    string
	BaseURL      string
	ChunkSize    int
	Concurrency  int
	Timeout      time.Duration
	PostsDir     string
	MirrorPath   string
	Fields       []string
	Ignore       []string
	SyncInterval time.Duration
	LogFile      string
	Path         string
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("chunk_size", searchindex.DefaultChunkSize)
	v.SetDefault("concurrency", searchindex.DefaultConcurrency)
	v.SetDefault("timeout", searchindex.DefaultTimeout)
	v.SetDefault("posts_dir", DefaultPostsDir)
	v.SetDefault("mirror_path", DefaultMirrorPath)
	v.SetDefault("fields", DefaultFields)
	v.SetDefault("sync_interval", DefaultSyncInterval)
	v.SetDefault("log_file", DefaultLogFilePath)
	// AutomaticEnv only resolves keys viper already knows about
	v.SetDefault("app_id", "")
	v.SetDefault("admin_api_key", "")
	v.SetDefault("index_name", "")
	v.SetDefault("base_url", "")
	v.SetDefault("ignore", []string{})
}

// FromViper builds a validated config from the merged file, env and flag values
// in v. path is the config file v read, or empty when there was none.
func FromViper(v *viper.Viper, path string) (*Config, error) {
	cfg := &Config{
		Path:         path,
		AppID:        v.GetString("app_id"),
		AdminAPIKey:  v.GetString("admin_api_key"),
		IndexName:    v.GetString("index_name"),
		BaseURL:      v.GetString("base_url"),
		ChunkSize:    v.GetInt("chunk_size"),
		Concurrency:  v.GetInt("concurrency"),
		Timeout:      v.GetDuration("timeout"),
		PostsDir:     v.GetString("posts_dir"),
		MirrorPath:   v.GetString("mirror_path"),
		Fields:       v.GetStringSlice("fields"),
		Ignore:       v.GetStringSlice("ignore"),
		SyncInterval: v.GetDuration("sync_interval"),
		LogFile:      v.GetString("log_file"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv reads KEY=value pairs from a .env file in dir. Variables already
// set in the environment win. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if !utils.FileExists(path) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// BaseDir is the directory relative paths are resolved against: the directory
// of the config file when there is one, else the working directory.
func (c *Config) BaseDir() string {
	if c.Path != "" {
		return filepath.Dir(c.Path)
	}
	wd, _ := os.Getwd()
	return wd
}

// Validate fills defaults and resolves paths to absolute. Credentials are
// checked by Remote, since local commands run without them.
func (c *Config) Validate() error {
	var err error

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}
	base := c.BaseDir()

	if c.PostsDir == "" {
		c.PostsDir = DefaultPostsDir
	}
	if c.PostsDir, err = utils.ResolvePathFrom(base, c.PostsDir); err != nil {
		return fmt.Errorf("posts dir: %w", err)
	}

	if c.MirrorPath == "" {
		c.MirrorPath = DefaultMirrorPath
	}
	if c.MirrorPath, err = utils.ResolvePathFrom(base, c.MirrorPath); err != nil {
		return fmt.Errorf("mirror path: %w", err)
	}

	if c.LogFile != "" {
		if c.LogFile, err = utils.ResolvePathFrom(base, c.LogFile); err != nil {
			return fmt.Errorf("log file: %w", err)
		}
	}

	if c.ChunkSize == 0 {
		c.ChunkSize = searchindex.DefaultChunkSize
	} else if c.ChunkSize < 0 {
		return ErrInvalidChunkSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = searchindex.DefaultConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = searchindex.DefaultTimeout
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = DefaultSyncInterval
	} else if c.SyncInterval < 0 {
		return ErrInvalidInterval
	}
	if len(c.Fields) == 0 {
		c.Fields = append([]string(nil), DefaultFields...)
	}

	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("base url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("base url: unsupported scheme %q", u.Scheme)
		}
		c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	}
	return nil
}

// Remote returns the search index client settings, failing when credentials are missing.
func (c *Config) Remote() (searchindex.Config, error) {
	rc := searchindex.Config{
		AppID:       c.AppID,
		APIKey:      c.AdminAPIKey,
		IndexName:   c.IndexName,
		BaseURL:     c.BaseURL,
		ChunkSize:   c.ChunkSize,
		Concurrency: c.Concurrency,
		Retries:     searchindex.DefaultRetries,
		Timeout:     c.Timeout,
	}
	if err := rc.Validate(); err != nil {
		return searchindex.Config{}, err
	}
	return rc, nil
}

// fileConfig is the on-disk form, with durations written as strings so the
// file reads back through viper.
type fileConfig struct {
	AppID        string   `json:"app_id"`
	IndexName    string   `json:"index_name"`
	BaseURL      string   `json:"base_url,omitempty"`
	ChunkSize    int      `json:"chunk_size"`
	Concurrency  int      `json:"concurrency"`
	Timeout      string   `json:"timeout"`
	PostsDir     string   `json:"posts_dir"`
	MirrorPath   string   `json:"mirror_path"`
	Fields       []string `json:"fields"`
	Ignore       []string `json:"ignore,omitempty"`
	SyncInterval string   `json:"sync_interval"`
	LogFile      string   `json:"log_file,omitempty"`
}

// Save writes the config as JSON. The admin key is left out; keep it in the
// environment or a .env file.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(&fileConfig{
		AppID:        c.AppID,
		IndexName:    c.IndexName,
		BaseURL:      c.BaseURL,
		ChunkSize:    c.ChunkSize,
		Concurrency:  c.Concurrency,
		Timeout:      c.Timeout.String(),
		PostsDir:     c.PostsDir,
		MirrorPath:   c.MirrorPath,
		Fields:       c.Fields,
		Ignore:       c.Ignore,
		SyncInterval: c.SyncInterval.String(),
		LogFile:      c.LogFile,
	}, "", "  ")
	if err != nil {
		return err
	}

	c.Path = path
	return utils.WriteFileAtomic(path, append(data, '\n'), 0o600)
}
