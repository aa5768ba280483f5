package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// FileName is the config file looked up in a lesson directory.
const FileName = "lessonview.yaml"

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore: LESSONVIEW_SERVER__PORT sets server.port.
const EnvPrefix = "LESSONVIEW_"

// Config represents the lessonview configuration
type Config struct {
	Title    string                  `yaml:"title" koanf:"title"`
	Ignore   []string                `yaml:"ignore" koanf:"ignore"`
	Server   ServerConfig            `yaml:"server" koanf:"server"`
	Timing   TimingConfig            `yaml:"timing" koanf:"timing"`
	Diagram  DiagramConfig           `yaml:"diagram" koanf:"diagram"`
	Widgets  map[string]WidgetConfig `yaml:"widgets,omitempty" koanf:"widgets"`
	Features FeaturesConfig          `yaml:"features" koanf:"features"`
	API      *APIConfig              `yaml:"api,omitempty" koanf:"api"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port  int    `yaml:"port" koanf:"port"`
	Host  string `yaml:"host" koanf:"host"`
	Debug bool   `yaml:"debug" koanf:"debug"`
	// Origins allowed to read /api/*. Empty disables CORS headers.
	CORSOrigins []string `yaml:"cors_origins,omitempty" koanf:"cors_origins"`
}

// TimingConfig holds the durations of interactive blocks (e.g. "2s", "15ms").
type TimingConfig struct {
	CopyConfirm string `yaml:"copy_confirm,omitempty" koanf:"copy_confirm"` // Default: 2s
	RunDelay    string `yaml:"run_delay,omitempty" koanf:"run_delay"`       // Default: 700ms
	RevealTick  string `yaml:"reveal_tick,omitempty" koanf:"reveal_tick"`   // Default: 15ms
}

// DiagramConfig selects how mermaid items are rendered.
type DiagramConfig struct {
	Service    string      `yaml:"service" koanf:"service"`                   // "client" (browser) or "chrome" (server side)
	Timeout    string      `yaml:"timeout,omitempty" koanf:"timeout"`         // Chrome render timeout. Default: 10s
	MermaidURL string      `yaml:"mermaid_url,omitempty" koanf:"mermaid_url"` // Mermaid bundle loaded by chrome
	ChromePath string      `yaml:"chrome_path,omitempty" koanf:"chrome_path"` // Chrome executable. Default: auto-detect
	Store      StoreConfig `yaml:"store,omitempty" koanf:"store"`             // Rendered markup store (chrome only)
}

// StoreConfig configures the persistent diagram markup store.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty" koanf:"driver"` // "sqlite" or "postgres"; empty disables the store
	DSN    string `yaml:"dsn,omitempty" koanf:"dsn"`       // Supports environment variable expansion
	TTL    string `yaml:"ttl,omitempty" koanf:"ttl"`       // Default: 24h
}

// WidgetConfig registers a WASM widget.
type WidgetConfig struct {
	Path string `yaml:"path" koanf:"path"` // Path to the .wasm file, relative to the config directory
}

// FeaturesConfig holds feature flags
type FeaturesConfig struct {
	HotReload bool `yaml:"hot_reload" koanf:"hot_reload"`
}

// APIConfig holds HTTP API configuration
type APIConfig struct {
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty" koanf:"rate_limit"`
}

// RateLimitConfig holds rate limiting configuration for the API
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" koanf:"requests_per_second"` // Default: 10
	Burst             int     `yaml:"burst,omitempty" koanf:"burst"`                             // Default: 20
	MaxTrackedIPs     int     `yaml:"max_tracked_ips,omitempty" koanf:"max_tracked_ips"`         // Default: 10000
}

// GetRateLimitRPS returns the rate limit in requests per second (default: 10)
func (c *APIConfig) GetRateLimitRPS() float64 {
	if c == nil || c.RateLimit == nil || c.RateLimit.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RateLimit.RequestsPerSecond
}

// GetMaxTrackedIPs returns how many client IPs the limiter tracks (default: 10000)
func (c *APIConfig) GetMaxTrackedIPs() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.MaxTrackedIPs <= 0 {
		return 10000
	}
	return c.RateLimit.MaxTrackedIPs
}

// GetRateLimitBurst returns the burst size (default: 20)
func (c *APIConfig) GetRateLimitBurst() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.Burst <= 0 {
		return 20
	}
	return c.RateLimit.Burst
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetCopyConfirm returns the copy confirmation window (default: 2s)
func (c TimingConfig) GetCopyConfirm() time.Duration {
	return parseDuration(c.CopyConfirm, 2*time.Second)
}

// GetRunDelay returns the terminal run delay (default: 700ms)
func (c TimingConfig) GetRunDelay() time.Duration {
	return parseDuration(c.RunDelay, 700*time.Millisecond)
}

// GetRevealTick returns the per-character reveal interval (default: 15ms)
func (c TimingConfig) GetRevealTick() time.Duration {
	return parseDuration(c.RevealTick, 15*time.Millisecond)
}

// GetTimeout returns the diagram render timeout (default: 10s)
func (c DiagramConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// IsServerSide reports whether diagrams are rendered by headless chrome.
func (c DiagramConfig) IsServerSide() bool {
	return c.Service == "chrome"
}

// IsEnabled reports whether a diagram store is configured.
func (c StoreConfig) IsEnabled() bool {
	return c.Driver != ""
}

// GetDSN returns the DSN with environment variable expansion
func (c StoreConfig) GetDSN() string {
	return os.ExpandEnv(c.DSN)
}

// GetTTL returns how long stored markup stays valid (default: 24h)
func (c StoreConfig) GetTTL() time.Duration {
	return parseDuration(c.TTL, 24*time.Hour)
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Title: "Lessons",
		Server: ServerConfig{
			Port:  8080,
			Host:  "localhost",
			Debug: false,
		},
		Diagram: DiagramConfig{
			Service: "client",
		},
		Features: FeaturesConfig{
			HotReload: true,
		},
		Ignore: []string{
			"drafts/**",
			"_*.md",
		},
	}
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	switch c.Diagram.Service {
	case "", "client", "chrome":
	default:
		return fmt.Errorf("invalid diagram.service %q: must be one of client, chrome", c.Diagram.Service)
	}

	switch c.Diagram.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid diagram.store.driver %q: must be one of sqlite, postgres", c.Diagram.Store.Driver)
	}
	if c.Diagram.Store.IsEnabled() && c.Diagram.Store.DSN == "" {
		return fmt.Errorf("diagram.store.dsn is required when a store driver is set")
	}

	for _, d := range []struct{ key, value string }{
		{"timing.copy_confirm", c.Timing.CopyConfirm},
		{"timing.run_delay", c.Timing.RunDelay},
		{"timing.reveal_tick", c.Timing.RevealTick},
		{"diagram.timeout", c.Diagram.Timeout},
		{"diagram.store.ttl", c.Diagram.Store.TTL},
	} {
		if d.value == "" {
			continue
		}
		if v, err := time.ParseDuration(d.value); err != nil || v <= 0 {
			return fmt.Errorf("invalid %s %q: must be a positive duration", d.key, d.value)
		}
	}

	for name, w := range c.Widgets {
		if w.Path == "" {
			return fmt.Errorf("widget %q: path is required", name)
		}
	}
	return nil
}

// WidgetPath resolves a widget path against the config directory.
func (c *Config) WidgetPath(dir, name string) string {
	p := c.Widgets[name].Path
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Load reads configuration from a YAML file, then overlays environment
// variable overrides (LESSONVIEW_*). A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")
	config := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env overrides: %w", err)
	}

	if err := k.Unmarshal("", config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, nil
}

// envKey maps LESSONVIEW_DIAGRAM__STORE__DSN to diagram.store.dsn.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// LoadFromDir looks for lessonview.yaml in the given directory.
// If none is found, returns the default configuration
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
