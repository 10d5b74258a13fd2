package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultConfigFileName = "ccglm.yaml"

const (
	UpstreamAnthropic = "anthropic"
	UpstreamZAI       = "zai"
)

type ProxyConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type UpstreamAnthropicConfig struct {
	URL string `yaml:"url"`
}

type UpstreamZAIConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"apiKey,omitempty"`
}

type UpstreamConfig struct {
	Anthropic UpstreamAnthropicConfig `yaml:"anthropic"`
	ZAI       UpstreamZAIConfig       `yaml:"zai"`
}

type RouteRule struct {
	Match    string `yaml:"match"`
	Upstream string `yaml:"upstream"`
	Model    string `yaml:"model,omitempty"`
}

type RoutingConfig struct {
	Rules   []RouteRule `yaml:"rules"`
	Default string      `yaml:"default"`
}

type LifecycleConfig struct {
	StopGraceSeconds int    `yaml:"stopGraceSeconds"`
	StartWaitSeconds int    `yaml:"startWaitSeconds"`
	StateDir         string `yaml:"stateDir"`
}

type SignatureStoreConfig struct {
	MaxSize int `yaml:"maxSize"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Config is the immutable-after-load configuration record threaded by
// reference into every core component. Nothing downstream of Load mutates it.
type Config struct {
	Proxy          ProxyConfig          `yaml:"proxy"`
	Upstream       UpstreamConfig       `yaml:"upstream"`
	Routing        RoutingConfig        `yaml:"routing"`
	Lifecycle      LifecycleConfig      `yaml:"lifecycle"`
	SignatureStore SignatureStoreConfig `yaml:"signature_store"`
	Logging        LoggingConfig        `yaml:"logging"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", "ccglm", defaultConfigFileName)
}

func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ccglm"
	}
	return filepath.Join(home, ".ccglm")
}

func Default() *Config {
	cfg := &Config{
		Proxy: ProxyConfig{Host: "127.0.0.1", Port: 8787},
		Upstream: UpstreamConfig{
			Anthropic: UpstreamAnthropicConfig{URL: "https://api.anthropic.com"},
			ZAI:       UpstreamZAIConfig{URL: "https://api.z.ai/api/anthropic"},
		},
		Routing: RoutingConfig{Default: UpstreamAnthropic},
	}
	cfg.Normalize()
	return cfg
}

// Load reads a YAML config file, expands ${VAR} placeholders against the
// process environment, fills documented defaults, validates it, and returns
// an immutable Config. The loader is the only place env vars are consulted;
// the core never reads the environment itself.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.Expand(string(b), lookupEnvStrict)
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadOrCreate loads path, writing out a fresh Default() config first if
// nothing exists there yet.
func LoadOrCreate(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(path, Default()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	return Load(path)
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// lookupEnvStrict leaves ${VAR} untouched (rather than expanding to "") when
// VAR isn't set, so a missing secret surfaces as a dangling placeholder in
// validation/dial errors instead of silently becoming an empty apiKey.
func lookupEnvStrict(name string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return "${" + name + "}"
}

func (c *Config) Normalize() {
	c.Proxy.Host = strings.TrimSpace(c.Proxy.Host)
	if c.Proxy.Host == "" {
		c.Proxy.Host = "127.0.0.1"
	}
	if c.Proxy.Port <= 0 {
		c.Proxy.Port = 8787
	}
	c.Upstream.Anthropic.URL = strings.TrimRight(strings.TrimSpace(c.Upstream.Anthropic.URL), "/")
	c.Upstream.ZAI.URL = strings.TrimRight(strings.TrimSpace(c.Upstream.ZAI.URL), "/")
	c.Upstream.ZAI.APIKey = strings.TrimSpace(c.Upstream.ZAI.APIKey)

	for i := range c.Routing.Rules {
		c.Routing.Rules[i].Match = strings.TrimSpace(c.Routing.Rules[i].Match)
		c.Routing.Rules[i].Upstream = strings.ToLower(strings.TrimSpace(c.Routing.Rules[i].Upstream))
		c.Routing.Rules[i].Model = strings.TrimSpace(c.Routing.Rules[i].Model)
	}
	c.Routing.Default = strings.ToLower(strings.TrimSpace(c.Routing.Default))
	if c.Routing.Default == "" {
		c.Routing.Default = UpstreamAnthropic
	}

	c.Lifecycle.StateDir = strings.TrimSpace(c.Lifecycle.StateDir)
	if c.Lifecycle.StateDir == "" {
		c.Lifecycle.StateDir = DefaultStateDir()
	}
	if c.Lifecycle.StopGraceSeconds <= 0 {
		c.Lifecycle.StopGraceSeconds = 8
	}
	if c.Lifecycle.StartWaitSeconds <= 0 {
		c.Lifecycle.StartWaitSeconds = 8
	}

	if c.SignatureStore.MaxSize <= 0 || c.SignatureStore.MaxSize > 100000 {
		c.SignatureStore.MaxSize = 1000
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.File = strings.TrimSpace(c.Logging.File)
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.Lifecycle.StateDir, "cc-glm.jsonl")
	}
}

func (c *Config) Validate() error {
	if c.Proxy.Port < 1 || c.Proxy.Port > 65535 {
		return fmt.Errorf("proxy.port %d out of range 1..65535", c.Proxy.Port)
	}
	if c.Upstream.Anthropic.URL == "" {
		return errors.New("upstream.anthropic.url is required")
	}
	if c.Upstream.ZAI.URL == "" {
		return errors.New("upstream.zai.url is required")
	}
	for i, r := range c.Routing.Rules {
		if r.Match == "" {
			return fmt.Errorf("routing.rules[%d].match is required", i)
		}
	}
	if !filepath.IsAbs(c.Lifecycle.StateDir) {
		return fmt.Errorf("lifecycle.stateDir %q must be an absolute path", c.Lifecycle.StateDir)
	}
	if c.Lifecycle.StopGraceSeconds < 0 || c.Lifecycle.StopGraceSeconds > 300 {
		return fmt.Errorf("lifecycle.stopGraceSeconds %d out of range 0..300", c.Lifecycle.StopGraceSeconds)
	}
	if c.Lifecycle.StartWaitSeconds < 1 || c.Lifecycle.StartWaitSeconds > 60 {
		return fmt.Errorf("lifecycle.startWaitSeconds %d out of range 1..60", c.Lifecycle.StartWaitSeconds)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug|info|warn|error", c.Logging.Level)
	}
	return nil
}

// IsValidUpstreamName reports whether name is one of the two allowed
// upstream identifiers used throughout routing and header policy.
func IsValidUpstreamName(name string) bool {
	switch name {
	case UpstreamAnthropic, UpstreamZAI:
		return true
	default:
		return false
	}
}
