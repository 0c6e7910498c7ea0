// Package config loads applyflow settings from defaults, .env files, the
// environment and an optional YAML file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "APPLYFLOW"

	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Site     SiteConfig     `mapstructure:"site"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Locator  LocatorConfig  `mapstructure:"locator"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// AuthConfig protects the operator API. The password is stored as a bcrypt
// hash only.
type AuthConfig struct {
	Username     string        `mapstructure:"username"`
	PasswordHash Secret        `mapstructure:"password_hash"`
	JWTSecret    Secret        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// Validate checks the settings the API server needs.
func (a AuthConfig) Validate() error {
	switch {
	case a.Username == "":
		return errors.New("auth.username is required")
	case a.PasswordHash == "":
		return errors.New("auth.password_hash is required")
	case len(a.JWTSecret) < 16:
		return errors.New("auth.jwt_secret must be at least 16 characters")
	case a.TokenTTL <= 0:
		return errors.New("auth.token_ttl must be positive")
	}
	return nil
}

// SiteConfig holds the job site account.
type SiteConfig struct {
	Email    string `mapstructure:"email"`
	Password Secret `mapstructure:"password"`
}

type BrowserConfig struct {
	Driver      string `mapstructure:"driver"`
	Headless    bool   `mapstructure:"headless"`
	ExecPath    string `mapstructure:"exec_path"`
	RemoteURL   string `mapstructure:"remote_url"`
	Device      string `mapstructure:"device"`
	UserDataDir string `mapstructure:"user_data_dir"`
	// InstallPlaywright downloads the bundled Chromium on first launch.
	InstallPlaywright bool `mapstructure:"install_playwright"`
}

type LocatorConfig struct {
	StrategyTimeout time.Duration `mapstructure:"strategy_timeout"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	ClassMarkers    []string      `mapstructure:"class_markers"`
}

type RecorderConfig struct {
	ActionLog     string        `mapstructure:"action_log"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type PipelineConfig struct {
	RestartGrace   time.Duration `mapstructure:"restart_grace"`
	ActionInterval time.Duration `mapstructure:"action_interval"`
	Settle         time.Duration `mapstructure:"settle"`
	HistoryLimit   int           `mapstructure:"history_limit"`
}

type WorkflowConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Keywords     string `mapstructure:"keywords"`
	MaxPages     int    `mapstructure:"max_pages"`
	MaxFormPages int    `mapstructure:"max_form_pages"`
}

type ScheduleConfig struct {
	// Cron is a six-field expression with seconds. Empty disables
	// scheduled runs.
	Cron      string        `mapstructure:"cron"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	AddSource   bool        `mapstructure:"add_source"`
	ServiceName string      `mapstructure:"service_name"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"`
	Compress    bool        `mapstructure:"compress"`
	Colors      ColorConfig `mapstructure:"colors"`
}

type ColorConfig struct {
	Debug string `mapstructure:"debug"`
	Info  string `mapstructure:"info"`
	Warn  string `mapstructure:"warn"`
	Error string `mapstructure:"error"`
}

// Secret is a string that never renders its value.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

func (s Secret) GoString() string {
	return `config.Secret("` + s.String() + `")`
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Reveal returns the raw value.
func (s Secret) Reveal() string {
	return string(s)
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("auth.username", "operator")
	v.SetDefault("auth.password_hash", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("site.email", "")
	v.SetDefault("site.password", "")

	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.device", "")
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.install_playwright", false)

	v.SetDefault("locator.strategy_timeout", "10s")
	v.SetDefault("locator.probe_timeout", "3s")
	v.SetDefault("locator.class_markers", []string{"artdeco-", "ember-"})

	v.SetDefault("recorder.action_log", "linkedin_actions.json")
	v.SetDefault("recorder.probe_interval", "1s")
	v.SetDefault("recorder.flush_interval", "5s")

	v.SetDefault("pipeline.restart_grace", "5s")
	v.SetDefault("pipeline.action_interval", "500ms")
	v.SetDefault("pipeline.settle", "2s")
	v.SetDefault("pipeline.history_limit", 500)

	v.SetDefault("workflow.base_url", "https://www.linkedin.com")
	v.SetDefault("workflow.keywords", "Desenvolvedor")
	v.SetDefault("workflow.max_pages", 1)
	v.SetDefault("workflow.max_form_pages", 5)

	v.SetDefault("schedule.cron", "")
	v.SetDefault("schedule.heartbeat", "30s")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "applyflow")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
}

// NewViper returns a viper instance with defaults and environment binding.
// Site credentials are also read from LINKEDIN_EMAIL and LINKEDIN_PASSWORD.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("site.email", EnvPrefix+"_SITE_EMAIL", "LINKEDIN_EMAIL")
	_ = v.BindEnv("site.password", EnvPrefix+"_SITE_PASSWORD", "LINKEDIN_PASSWORD")
	return v
}

// Load reads .env files, the environment and, when file is set, a config
// file, and returns the validated configuration.
func Load(file string, envFiles ...string) (*Config, error) {
	if err := loadEnv(envFiles...); err != nil {
		return nil, err
	}
	v := NewViper()
	if file != "" {
		path, err := homedir.Expand(file)
		if err != nil {
			return nil, fmt.Errorf("expand config path: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return NewConfigFromViper(v)
}

// loadEnv loads the given .env files, or ./.env when none are given. A
// missing default file is not an error. Variables already set win.
func loadEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	for _, f := range files {
		path, err := homedir.Expand(f)
		if err != nil {
			return err
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	for _, p := range []*string{&cfg.Recorder.ActionLog, &cfg.Logger.LogFile, &cfg.Browser.UserDataDir, &cfg.Browser.ExecPath} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"locator.strategy_timeout", c.Locator.StrategyTimeout},
		{"locator.probe_timeout", c.Locator.ProbeTimeout},
		{"recorder.probe_interval", c.Recorder.ProbeInterval},
		{"recorder.flush_interval", c.Recorder.FlushInterval},
		{"pipeline.restart_grace", c.Pipeline.RestartGrace},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}
	if c.Pipeline.ActionInterval < 0 || c.Pipeline.Settle < 0 {
		return errors.New("pipeline.action_interval and pipeline.settle must not be negative")
	}
	switch c.Browser.Driver {
	case DriverChromedp, DriverPlaywright:
	default:
		return fmt.Errorf("browser.driver must be %q or %q, got %q", DriverChromedp, DriverPlaywright, c.Browser.Driver)
	}
	if c.Workflow.BaseURL == "" {
		return errors.New("workflow.base_url is required")
	}
	if c.Workflow.MaxPages <= 0 || c.Workflow.MaxFormPages <= 0 {
		return errors.New("workflow.max_pages and workflow.max_form_pages must be positive")
	}
	if c.Recorder.ActionLog == "" {
		return errors.New("recorder.action_log is required")
	}
	return nil
}
