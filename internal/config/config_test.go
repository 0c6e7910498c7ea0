package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := NewConfigFromViper(NewViper())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, DriverChromedp, cfg.Browser.Driver)
	assert.Equal(t, 10*time.Second, cfg.Locator.StrategyTimeout)
	assert.Equal(t, []string{"artdeco-", "ember-"}, cfg.Locator.ClassMarkers)
	assert.Equal(t, "linkedin_actions.json", cfg.Recorder.ActionLog)
	assert.Equal(t, time.Second, cfg.Recorder.ProbeInterval)
	assert.Equal(t, 5*time.Second, cfg.Recorder.FlushInterval)
	assert.Equal(t, "https://www.linkedin.com", cfg.Workflow.BaseURL)
	assert.Equal(t, "Desenvolvedor", cfg.Workflow.Keywords)
	assert.Empty(t, cfg.Schedule.Cron)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("APPLYFLOW_LOCATOR_STRATEGY_TIMEOUT", "2s")
	t.Setenv("APPLYFLOW_BROWSER_DRIVER", "playwright")
	t.Setenv("LINKEDIN_EMAIL", "me@example.com")
	t.Setenv("LINKEDIN_PASSWORD", "hunter2")

	cfg, err := NewConfigFromViper(NewViper())
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Locator.StrategyTimeout)
	assert.Equal(t, DriverPlaywright, cfg.Browser.Driver)
	assert.Equal(t, "me@example.com", cfg.Site.Email)
	assert.Equal(t, "hunter2", cfg.Site.Password.Reveal())

	t.Setenv("APPLYFLOW_SITE_PASSWORD", "preferred")
	cfg, err = NewConfigFromViper(NewViper())
	require.NoError(t, err)
	assert.Equal(t, "preferred", cfg.Site.Password.Reveal())
}

func TestLoadFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "applyflow.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
workflow:
  keywords: "Go Developer"
  max_pages: 3
recorder:
  flush_interval: 10s
`), 0o600))
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("APPLYFLOW_SITE_EMAIL=dotenv@example.com\n"), 0o600))
	t.Setenv("APPLYFLOW_SITE_EMAIL", "")
	os.Unsetenv("APPLYFLOW_SITE_EMAIL")

	cfg, err := Load(file, env)
	require.NoError(t, err)
	assert.Equal(t, "Go Developer", cfg.Workflow.Keywords)
	assert.Equal(t, 3, cfg.Workflow.MaxPages)
	assert.Equal(t, 10*time.Second, cfg.Recorder.FlushInterval)
	assert.Equal(t, "dotenv@example.com", cfg.Site.Email)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := NewConfigFromViper(NewViper())
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(*Config){
		"locator.strategy_timeout must be positive": func(c *Config) { c.Locator.StrategyTimeout = 0 },
		"recorder.flush_interval must be positive":  func(c *Config) { c.Recorder.FlushInterval = -time.Second },
		"browser.driver must be":                    func(c *Config) { c.Browser.Driver = "selenium" },
		"workflow.base_url is required":             func(c *Config) { c.Workflow.BaseURL = "" },
		"workflow.max_pages":                        func(c *Config) { c.Workflow.MaxPages = 0 },
		"recorder.action_log is required":           func(c *Config) { c.Recorder.ActionLog = "" },
	}
	for want, mutate := range cases {
		t.Run(want, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), want)
		})
	}
}

func TestAuthValidate(t *testing.T) {
	a := AuthConfig{Username: "operator", PasswordHash: "$2a$10$hash", JWTSecret: "0123456789abcdef", TokenTTL: time.Hour}
	assert.NoError(t, a.Validate())

	short := a
	short.JWTSecret = "short"
	assert.ErrorContains(t, short.Validate(), "jwt_secret")

	noHash := a
	noHash.PasswordHash = ""
	assert.ErrorContains(t, noHash.Validate(), "password_hash")
}

func TestSecretNeverRenders(t *testing.T) {
	site := SiteConfig{Email: "me@example.com", Password: "hunter2"}
	for _, s := range []string{fmt.Sprintf("%v", site), fmt.Sprintf("%+v", site), fmt.Sprintf("%#v", site)} {
		assert.NotContains(t, s, "hunter2")
	}
	b, err := json.Marshal(site)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hunter2")
	assert.Equal(t, "", Secret("").String())
}
