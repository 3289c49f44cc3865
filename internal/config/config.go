package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	apperrors "github.com/alexjbarnes/bookstack-sync/internal/errors"
	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
)

const (
	// defaultConfigDir is the per-user directory holding conf.toml.
	defaultConfigDir = ".config/obsidian_to_bookstack"

	// defaultConfigFile is the wiki config file name inside defaultConfigDir.
	defaultConfigFile = "conf.toml"
)

// Config holds the credentials, transport tuning and wiki layout for a
// sync run. Credentials come from the environment, the wiki layout comes
// from a TOML file.
type Config struct {
	// Bookstack API endpoint and token pair.
	BaseURL     string `env:"BOOKSTACK_BASE_URL"`
	TokenID     string `env:"BOOKSTACK_TOKEN_ID"`
	TokenSecret string `env:"BOOKSTACK_TOKEN_SECRET"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// FetchConcurrency bounds the number of detail requests in flight
	// during remote collection. 1 keeps collection strictly sequential.
	FetchConcurrency int `env:"BOOKSTACK_FETCH_CONCURRENCY" envDefault:"1"`

	// HTTPTimeout is applied to every API request.
	HTTPTimeout time.Duration `env:"BOOKSTACK_HTTP_TIMEOUT" envDefault:"30s"`

	// VaultPath overrides wiki.path from the TOML file when set.
	VaultPath string `env:"BOOKSTACK_VAULT_PATH"`

	Wiki Wiki
}

// Wiki is the [wiki] table of conf.toml.
type Wiki struct {
	Path     string   `toml:"path"`
	Excluded Excluded `toml:"excluded"`
}

// Excluded is the [wiki.excluded] table of conf.toml.
type Excluded struct {
	Shelves []string `toml:"shelves"`
}

type wikiFile struct {
	Wiki Wiki `toml:"wiki"`
}

// Options selects where Load reads from. Empty fields fall back to the
// defaults: a .env file in the working directory and DefaultConfigPath.
type Options struct {
	EnvFile    string
	ConfigFile string
}

// DefaultConfigPath returns ~/.config/obsidian_to_bookstack/conf.toml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, defaultConfigDir, defaultConfigFile), nil
}

// warnInsecureEnvFile checks whether the env file (if present) has
// overly permissive permissions. The file carries the API token secret.
func warnInsecureEnvFile(path string) {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: %s has insecure permissions %04o; recommended 0600", path, mode)
	}
}

// Load reads configuration from the environment and the wiki TOML file.
// An explicitly named env or config file must exist. The default .env and
// the default conf.toml are optional.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	} else {
		envFile = ".env"
		_ = godotenv.Load()
	}

	warnInsecureEnvFile(envFile)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.loadWiki(opts.ConfigFile); err != nil {
		return nil, err
	}

	if cfg.VaultPath != "" {
		cfg.Wiki.Path = cfg.VaultPath
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	absDir, err := filepath.Abs(expandHome(cfg.Wiki.Path))
	if err != nil {
		return nil, fmt.Errorf("resolving vault path to absolute path: %w", err)
	}

	cfg.Wiki.Path = absDir

	return cfg, nil
}

func (c *Config) loadWiki(path string) error {
	explicit := path != ""
	if !explicit {
		def, err := DefaultConfigPath()
		if err != nil {
			return err
		}

		path = def
	}

	var wf wikiFile

	_, err := toml.DecodeFile(path, &wf)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("reading wiki config %s: %w", path, err)
	}

	c.Wiki = wf.Wiki

	return nil
}

func (c *Config) validate() error {
	fields := []struct {
		name  string
		value interface{}
		rules []validation.Rule
	}{
		{"BOOKSTACK_BASE_URL", c.BaseURL, []validation.Rule{validation.Required, validation.By(httpURL)}},
		{"BOOKSTACK_TOKEN_ID", c.TokenID, []validation.Rule{validation.Required}},
		{"BOOKSTACK_TOKEN_SECRET", c.TokenSecret, []validation.Rule{validation.Required}},
		{"wiki.path", c.Wiki.Path, []validation.Rule{validation.Required}},
		{"BOOKSTACK_FETCH_CONCURRENCY", c.FetchConcurrency, []validation.Rule{validation.Required, validation.Min(1)}},
		{"BOOKSTACK_HTTP_TIMEOUT", c.HTTPTimeout, []validation.Rule{validation.Required, validation.Min(time.Second)}},
	}

	for _, f := range fields {
		if err := validation.Validate(f.value, f.rules...); err != nil {
			return fmt.Errorf("%w: %s %v", apperrors.ErrMissingConfig, f.name, err)
		}
	}

	return nil
}

// httpURL accepts absolute http and https URLs only.
func httpURL(value interface{}) error {
	s, _ := value.(string)

	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("must be a valid URL")
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL")
	}

	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ExcludedShelves returns the shelf names the local collector skips.
func (c *Config) ExcludedShelves() []string {
	return c.Wiki.Excluded.Shelves
}
