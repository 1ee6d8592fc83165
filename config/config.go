// Package config loads process configuration from config.toml, ZDP_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"zendesk-prioritizer/settings"
)

const (
	configName = "config"
	configType = "toml"
	envPrefix  = "ZDP"

	// Dir is the per-user config directory under $HOME.
	Dir = ".zendesk-prioritizer"

	fileMode        = 0o600
	dirMode         = 0o700
	tempFilePattern = ".config-*.toml.tmp"
)

// Storage backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Notification providers.
const (
	ProviderLog     = "log"
	ProviderDesktop = "desktop"
	ProviderBrevo   = "brevo"
	ProviderGmail   = "gmail"
)

var (
	backends  = []string{BackendLocal, BackendGCS, BackendSQLite, BackendMemory}
	providers = []string{ProviderLog, ProviderDesktop, ProviderBrevo, ProviderGmail}
	modes     = []string{"browser", "clipboard", "log"}
)

// Config is the process configuration.
type Config struct {
	Log     Log     `mapstructure:"log" toml:"log"`
	Server  Server  `mapstructure:"server" toml:"server"`
	Storage Storage `mapstructure:"storage" toml:"storage"`
	Zendesk Zendesk `mapstructure:"zendesk" toml:"zendesk"`
	Notify  Notify  `mapstructure:"notify" toml:"notify"`
	Launch  Launch  `mapstructure:"launch" toml:"launch"`
}

// Log configures the process logger.
type Log struct {
	Level  string `mapstructure:"level" toml:"level"`
	Format string `mapstructure:"format" toml:"format"`
}

// Server configures the HTTP surface.
type Server struct {
	Port string `mapstructure:"port" toml:"port"`
}

// Storage selects where settings, stars and the seen map live.
type Storage struct {
	Backend    string `mapstructure:"backend" toml:"backend"`
	Path       string `mapstructure:"path" toml:"path"`
	Bucket     string `mapstructure:"bucket" toml:"bucket"`
	SQLitePath string `mapstructure:"sqlite_path" toml:"sqlite_path"`
}

// Zendesk configures the API client and seeds settings on first run.
type Zendesk struct {
	Domain   string `mapstructure:"domain" toml:"domain"`
	BaseURL  string `mapstructure:"base_url" toml:"base_url"`
	Email    string `mapstructure:"email" toml:"email"`
	APIToken string `mapstructure:"api_token" toml:"api_token"`
	Timeout  string `mapstructure:"timeout" toml:"timeout"`
	UserID   int64  `mapstructure:"user_id" toml:"user_id"`
	ViewID   int64  `mapstructure:"view_id" toml:"view_id"`
}

// Notify configures notification delivery.
type Notify struct {
	Provider         []string `mapstructure:"provider" toml:"provider"`
	To               string   `mapstructure:"to" toml:"to"`
	From             string   `mapstructure:"from" toml:"from"`
	FromName         string   `mapstructure:"from_name" toml:"from_name"`
	BrevoAPIKey      string   `mapstructure:"brevo_api_key" toml:"brevo_api_key"`
	GmailCredentials string   `mapstructure:"gmail_credentials" toml:"gmail_credentials"`
}

// Launch configures how agent links are opened.
type Launch struct {
	Mode string `mapstructure:"mode" toml:"mode"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log:     Log{Level: "info", Format: "json"},
		Server:  Server{Port: "8080"},
		Storage: Storage{Backend: BackendLocal, Path: "./data", SQLitePath: "./data/prioritizer.db"},
		Zendesk: Zendesk{Timeout: "30s"},
		Notify:  Notify{Provider: []string{ProviderLog}, FromName: "Zendesk Prioritizer"},
		Launch:  Launch{Mode: "browser"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.bucket", d.Storage.Bucket)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("zendesk.domain", d.Zendesk.Domain)
	v.SetDefault("zendesk.user_id", d.Zendesk.UserID)
	v.SetDefault("zendesk.view_id", d.Zendesk.ViewID)
	v.SetDefault("zendesk.base_url", d.Zendesk.BaseURL)
	v.SetDefault("zendesk.email", d.Zendesk.Email)
	v.SetDefault("zendesk.api_token", d.Zendesk.APIToken)
	v.SetDefault("zendesk.timeout", d.Zendesk.Timeout)
	v.SetDefault("notify.provider", d.Notify.Provider)
	v.SetDefault("notify.to", d.Notify.To)
	v.SetDefault("notify.from", d.Notify.From)
	v.SetDefault("notify.from_name", d.Notify.FromName)
	v.SetDefault("notify.brevo_api_key", d.Notify.BrevoAPIKey)
	v.SetDefault("notify.gmail_credentials", d.Notify.GmailCredentials)
	v.SetDefault("launch.mode", d.Launch.Mode)
}

// Load reads configuration into v. An explicit file must exist; otherwise
// config.toml is looked up in the working directory and then in $HOME/.zendesk-prioritizer,
// and a missing file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, Dir))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Notify.Provider = splitProviders(cfg.Notify.Provider)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitProviders accepts both list values and comma separated strings, as
// environment variables only carry the latter.
func splitProviders(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		for part := range strings.SplitSeq(p, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	if !slices.Contains(backends, c.Storage.Backend) {
		return fmt.Errorf("storage.backend %q: want one of %s", c.Storage.Backend, strings.Join(backends, ", "))
	}
	if c.Storage.Backend == BackendGCS && c.Storage.Bucket == "" {
		return errors.New("storage.bucket is required for the gcs backend")
	}
	if !slices.Contains(modes, c.Launch.Mode) {
		return fmt.Errorf("launch.mode %q: want one of %s", c.Launch.Mode, strings.Join(modes, ", "))
	}
	for _, p := range c.Notify.Provider {
		if !slices.Contains(providers, p) {
			return fmt.Errorf("notify.provider %q: want one of %s", p, strings.Join(providers, ", "))
		}
	}
	if _, err := time.ParseDuration(c.Zendesk.Timeout); err != nil {
		return fmt.Errorf("zendesk.timeout: %w", err)
	}
	return nil
}

// RequestTimeout is the Zendesk HTTP client timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Zendesk.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// SettingsDefaults seeds the settings store when nothing has been saved yet.
func (c *Config) SettingsDefaults() settings.Settings {
	s := settings.Default()
	s.ZendeskDomain = c.Zendesk.Domain
	if c.Zendesk.UserID != 0 {
		id := c.Zendesk.UserID
		s.UserID = &id
	}
	if c.Zendesk.ViewID != 0 {
		id := c.Zendesk.ViewID
		s.ViewID = &id
	}
	return s
}

// DefaultPath is $HOME/.zendesk-prioritizer/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, Dir, configName+"."+configType), nil
}

// WriteDefault writes the default configuration to path. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists", path)
	}

	data, err := toml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encode config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tempFile.Chmod(fileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	cleanup = false
	return nil
}
