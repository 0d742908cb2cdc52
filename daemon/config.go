package daemon

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/smallmercies/apiclient"
	"github.com/hazyhaar/smallmercies/settings"
)

// Config is the top-level daemon configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Game     GameConfig     `yaml:"game"`
	Settings SettingsConfig `yaml:"settings"`
	Admin    AdminConfig    `yaml:"admin"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote          string        `yaml:"remote"`
	Bin             string        `yaml:"bin"`
	Headless        bool          `yaml:"headless"`
	UserDataDir     string        `yaml:"user_data_dir"`
	Stealth         *bool         `yaml:"stealth"` // default true
	MemoryLimit     int64         `yaml:"memory_limit"`
	RecycleInterval time.Duration `yaml:"recycle_interval"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
}

// GameConfig locates the game and its API.
type GameConfig struct {
	URL        string `yaml:"url"`
	APIBase    string `yaml:"api_base"`
	APIPattern string `yaml:"api_pattern"` // rod hijack pattern
}

// SettingsConfig locates the settings store. Defaults seed keys the store
// does not hold yet; stored values always win.
type SettingsConfig struct {
	DB           string         `yaml:"db"`
	File         string         `yaml:"file"` // optional YAML settings file, seeded like Defaults
	PollInterval time.Duration  `yaml:"poll_interval"`
	Defaults     map[string]any `yaml:"defaults"`
}

// AdminConfig controls the admin HTTP/MCP listener. Empty Addr disables it.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("daemon: read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("daemon: parse config: %w", err)
	}
	if _, err := settings.FromMap(cfg.Settings.Defaults); err != nil {
		return nil, fmt.Errorf("daemon: settings defaults: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == nil {
		on := true
		c.Browser.Stealth = &on
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 60 * time.Second
	}
	if c.Game.URL == "" {
		c.Game.URL = "https://www.fallenlondon.com"
	}
	if c.Game.APIBase == "" {
		c.Game.APIBase = apiclient.DefaultBaseURL
	}
	if c.Game.APIPattern == "" {
		c.Game.APIPattern = "*api.fallenlondon.com/api/*"
	}
	if c.Settings.DB == "" {
		c.Settings.DB = "smallmercies.db"
	}
	if c.Settings.PollInterval <= 0 {
		c.Settings.PollInterval = 250 * time.Millisecond
	}
}

// SeedSettings returns the built-in defaults overlaid with the settings
// file, then with inline defaults.
func (c *Config) SeedSettings() (settings.Settings, error) {
	seed := settings.Defaults()
	if c.Settings.File != "" {
		f, err := settings.LoadFile(c.Settings.File)
		if err != nil {
			return settings.Settings{}, err
		}
		seed = seed.Merge(f)
	}
	return seed.Merge(settings.New(c.Settings.Defaults)), nil
}
