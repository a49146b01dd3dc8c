package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the optional configuration file looked up in the working
// directory. The process takes no command line arguments; everything is
// driven by defaults and this file.
const DefaultPath = "scarb-sync.yaml"

type Config struct {
	GitHub    GitHub    `yaml:"github"`
	Checksums Checksums `yaml:"checksums"`
	Storage   Storage   `yaml:"storage"`
	HTTP      HTTP      `yaml:"http"`
	Log       Log       `yaml:"log"`
}

type GitHub struct {
	Owner        string `yaml:"owner"`
	Repo         string `yaml:"repo"`
	APIBaseURL   string `yaml:"api_base_url"`
	DownloadBase string `yaml:"download_base_url"`
	PerPage      int    `yaml:"per_page"`  // release listing page size, 0 for the server default
	Auth         bool   `yaml:"auth"`      // attach a bearer token to API requests
	TokenEnv     string `yaml:"token_env"` // environment variable holding the token
}

type Checksums struct {
	Asset string `yaml:"asset"` // manifest file name among the release assets
}

type Storage struct {
	Path string `yaml:"path"` // versions file location
}

type HTTP struct {
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"` // client-side request rate, 0 disables limiting
	Burst   int           `yaml:"burst"`
}

type Log struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Filename   string `yaml:"filename"`    // log file path
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // number of backups
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`    // compress rotated files
}

// Default returns the built-in configuration tracking the upstream
// repository. Every field can be overridden from the config file.
func Default() *Config {
	return &Config{
		GitHub: GitHub{
			Owner:        "software-mansion",
			Repo:         "scarb",
			APIBaseURL:   "https://api.github.com",
			DownloadBase: "https://github.com",
			PerPage:      100,
			Auth:         false,
			TokenEnv:     "GITHUB_TOKEN",
		},
		Checksums: Checksums{
			Asset: "checksums.sha256",
		},
		Storage: Storage{
			Path: filepath.Join("versions", "versions.json"),
		},
		HTTP: HTTP{
			Timeout: 30 * time.Second,
			RPS:     8,
			Burst:   4,
		},
		Log: Log{
			Level:      "info",
			Filename:   "scarb-sync.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   false,
		},
	}
}

// Load loads the configuration from the default config file. A missing
// file is not an error; the defaults apply as-is.
func Load() (*Config, error) {
	return LoadFromFile(DefaultPath)
}

// LoadFromFile loads the configuration from the specified file, layered
// over the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Token returns the bearer token for API requests, or "" when token auth
// is disabled or the environment variable is unset. Only the release
// listing ever sends it; asset downloads stay anonymous.
func (g GitHub) Token() string {
	if !g.Auth {
		return ""
	}
	return os.Getenv(g.TokenEnv)
}
