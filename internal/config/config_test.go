package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const minimalJSON = `{
  "transport": {"driver": "napcat", "napcat": {"ws_url": "ws://127.0.0.1:3001", "http_url": "http://127.0.0.1:3000"}},
  "logging": {"level": "info", "console": true},
  "scheduler": {"enabled": true, "timezone": "Asia/Shanghai"},
  "storage": {"driver": "file", "path": "./data"},
  "calendar": {"enabled": true, "probability": 0.2}
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	cfg, err := NewConfigManager(writeFile(t, "config.json", minimalJSON)).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler.Timezone != "Asia/Shanghai" || cfg.Storage.Path != "./data" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Calendar.Probability == nil || *cfg.Calendar.Probability != 0.2 {
		t.Fatalf("probability = %v", cfg.Calendar.Probability)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	yml := `
transport:
  driver: napcat
  napcat:
    ws_url: ws://127.0.0.1:3001
    http_url: http://127.0.0.1:3000
weather:
  enabled: true
  host: abc.re.qweatherapi.com
  api_key: k
  forecast_at: "08:00"
bilibili:
  enabled: true
  screenshot:
    command:
      - chromium
      - "--screenshot={out}"
      - "{url}"
`
	cfg, err := NewConfigManager(writeFile(t, "config.yaml", yml)).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Weather.ForecastAt != "08:00" || !cfg.Bilibili.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
	want := []string{"chromium", "--screenshot={out}", "{url}"}
	if !reflect.DeepEqual(cfg.Bilibili.Capture.Command, want) {
		t.Fatalf("command = %v", cfg.Bilibili.Capture.Command)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	body := strings.Replace(minimalJSON, `"logging"`, `"telegram": {}, "logging"`, 1)
	if _, err := NewConfigManager(writeFile(t, "config.json", body)).Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	if _, err := NewConfigManager(writeFile(t, "config.json", minimalJSON+"{}")).Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestEnvFillsEmptySecrets(t *testing.T) {
	t.Setenv(EnvLLMAPIKey, "sk-env")
	t.Setenv(EnvNapCatToken, "env-token")
	body := strings.Replace(minimalJSON, `"http_url": "http://127.0.0.1:3000"`,
		`"http_url": "http://127.0.0.1:3000", "access_token": "file-token"`, 1)
	cfg, err := NewConfigManager(writeFile(t, "config.json", body)).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Fatalf("llm key = %q", cfg.LLM.APIKey)
	}
	if cfg.Transport.NapCat.AccessToken != "file-token" {
		t.Fatalf("file value must win, got %q", cfg.Transport.NapCat.AccessToken)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("KIBOT_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KIBOT_TEST_DOTENV", "")
	os.Unsetenv("KIBOT_TEST_DOTENV")
	loaded, err := LoadDotEnv(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || os.Getenv("KIBOT_TEST_DOTENV") != "from-file" {
		t.Fatalf("loaded = %v, value = %q", loaded, os.Getenv("KIBOT_TEST_DOTENV"))
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	bad := -0.5
	cases := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"unknown driver", func(c *Config) { c.Transport.Driver = "irc" }, "transport.driver"},
		{"napcat urls", func(c *Config) { c.Transport.NapCat.WSURL = "" }, "ws_url"},
		{"telegram token", func(c *Config) { c.Transport.Driver = "telegram" }, "telegram.token"},
		{"timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Base" }, "scheduler.timezone"},
		{"weather creds", func(c *Config) { c.Weather.Enabled = true }, "weather"},
		{"clock", func(c *Config) { c.Anime.Enabled = true; c.Anime.At = "8am" }, "anime.at"},
		{"probability", func(c *Config) { c.Calendar.Enabled = true; c.Calendar.Probability = &bad }, "calendar.probability"},
		{"duration", func(c *Config) { c.Bot.Timeout = "soon" }, "bot.timeout"},
	}
	for _, tc := range cases {
		cfg := &Config{Transport: TransportConfig{NapCat: NapCatConfig{WSURL: "ws://x", HTTPURL: "http://x"}}}
		if err := Validate(cfg); err != nil {
			t.Fatalf("base config invalid: %v", err)
		}
		tc.mut(cfg)
		err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v, want mention of %q", tc.name, err, tc.want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		LLM:     LLMConfig{Enabled: true, APIKey: "secret"},
	}
	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if !reflect.DeepEqual(changed, []string{"llm", "logging"}) {
		t.Fatalf("changed = %v", changed)
	}
	if !reflect.DeepEqual(restart, []string{"llm"}) {
		t.Fatalf("restart = %v", restart)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "90s", time.Minute); err != nil || d != 90*time.Second {
		t.Fatalf("90s = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative should fail")
	}
}

func TestWatchPublishesValidChange(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", minimalJSON)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(200 * time.Millisecond)
	updated := strings.Replace(minimalJSON, `"level": "info"`, `"level": "debug"`, 1)
	if err := os.WriteFile(p, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}
