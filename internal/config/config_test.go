package config

import (
	"os"
	"path/filepath"
	"testing"
)

// isolate 隔离 HOME、工作目录与环境变量 / isolate pins HOME, the working dir and env vars.
func isolate(t *testing.T) (home, work string) {
	t.Helper()
	home = t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"QUIZLAB_CONFIG", "QUIZLAB_BASE_URL", "QUIZLAB_MODEL", "QUIZLAB_API_KEY", "DEEPSEEK_API_KEY",
		"QUIZLAB_LISTEN", "QUIZLAB_HOME", "QUIZLAB_DAILY_LIMIT", "QUIZLAB_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
	work = t.TempDir()
	oldwd, _ := os.Getwd()
	if err := os.Chdir(work); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldwd) })
	return home, work
}

func TestLoadDefaults(t *testing.T) {
	home, _ := isolate(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != DefaultProviderModel {
		t.Fatalf("model=%q", cfg.Provider.Model)
	}
	if cfg.Usage.DailyLimit != DefaultDailyLimit {
		t.Fatalf("daily_limit=%d", cfg.Usage.DailyLimit)
	}
	if want := filepath.Join(home, ".quizlab", "sessions.db"); cfg.SessionsPath() != want {
		t.Fatalf("SessionsPath=%q, want %q", cfg.SessionsPath(), want)
	}
	if want := filepath.Join(home, ".quizlab", "local_storage.db"); cfg.KVPath() != want {
		t.Fatalf("KVPath=%q, want %q", cfg.KVPath(), want)
	}
}

func TestLoadJSONCAndPrecedence(t *testing.T) {
	home, _ := isolate(t)

	globalDir := filepath.Join(home, ".quizlab")
	if err := os.MkdirAll(globalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	globalCfg := `{
  // global
  "provider": {"model": "global-model"},
  "usage": {"daily_limit": 100},
  /* block */
  "log": {"level": "debug"}
}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalCfg), 0o644); err != nil {
		t.Fatal(err)
	}
	projectCfg := `{
  "provider": {"model": "project-model", "base_url": "http://localhost:9000/api/proxy/"},
  "usage": {"daily_limit": 0}
}`
	if err := os.WriteFile("quizlab.config.json", []byte(projectCfg), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != "project-model" {
		t.Fatalf("model=%q", cfg.Provider.Model)
	}
	if cfg.Provider.BaseURL != "http://localhost:9000/api/proxy" {
		t.Fatalf("base_url=%q", cfg.Provider.BaseURL)
	}
	// 显式 0 覆盖全局 100 / An explicit 0 overrides the global 100.
	if cfg.Usage.DailyLimit != 0 {
		t.Fatalf("daily_limit=%d, want 0", cfg.Usage.DailyLimit)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log.level=%q", cfg.Log.Level)
	}
}

func TestLoadYAML(t *testing.T) {
	isolate(t)
	yamlCfg := `
provider:
  model: yaml-model
proxy:
  listen: ":9999"
  upstream: https://example.test/v1/
storage:
  base_dir: ./data
`
	if err := os.WriteFile("quizlab.config.yaml", []byte(yamlCfg), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != "yaml-model" {
		t.Fatalf("model=%q", cfg.Provider.Model)
	}
	if cfg.Proxy.Listen != ":9999" || cfg.Proxy.Upstream != "https://example.test/v1" {
		t.Fatalf("proxy=%+v", cfg.Proxy)
	}
	if !filepath.IsAbs(cfg.Storage.BaseDir) || filepath.Base(cfg.Storage.BaseDir) != "data" {
		t.Fatalf("base_dir=%q", cfg.Storage.BaseDir)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	_, work := isolate(t)
	path := filepath.Join(work, "custom.json")
	if err := os.WriteFile(path, []byte(`{"provider":{"model":"explicit"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != "explicit" {
		t.Fatalf("model=%q", cfg.Provider.Model)
	}

	if _, err := Load(filepath.Join(work, "missing.json")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestEnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("QUIZLAB_MODEL", "env-model")
	t.Setenv("DEEPSEEK_API_KEY", "sk-upstream")
	t.Setenv("QUIZLAB_DAILY_LIMIT", "25")
	t.Setenv("QUIZLAB_HOME", "/tmp/quizlab-env")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != "env-model" {
		t.Fatalf("model=%q", cfg.Provider.Model)
	}
	if cfg.Proxy.APIKey != "sk-upstream" {
		t.Fatalf("proxy.api_key=%q", cfg.Proxy.APIKey)
	}
	if cfg.Provider.APIKey != "" {
		t.Fatalf("provider.api_key should stay empty, got %q", cfg.Provider.APIKey)
	}
	if cfg.Usage.DailyLimit != 25 {
		t.Fatalf("daily_limit=%d", cfg.Usage.DailyLimit)
	}
	if cfg.Storage.BaseDir != "/tmp/quizlab-env" {
		t.Fatalf("base_dir=%q", cfg.Storage.BaseDir)
	}
}

func TestEnvInvalidDailyLimit(t *testing.T) {
	isolate(t)
	t.Setenv("QUIZLAB_DAILY_LIMIT", "-3")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for negative limit")
	}
}

func TestStripJSONComments(t *testing.T) {
	in := `{"url": "http://x//y", /* c */ "a": 1 // tail
}`
	got := string(stripJSONComments([]byte(in)))
	want := `{"url": "http://x//y",  "a": 1 
}`
	if got != want {
		t.Fatalf("stripJSONComments=%q, want %q", got, want)
	}
}

func TestInitProjectConfigScaffold(t *testing.T) {
	_, work := isolate(t)

	path, err := InitProjectConfigScaffold(work, "json")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "quizlab.config.json" {
		t.Fatalf("path=%q", path)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != DefaultProviderModel {
		t.Fatalf("model=%q", cfg.Provider.Model)
	}

	// 已存在时不覆盖 / An existing file is left alone.
	if err := os.WriteFile(path, []byte(`{"provider":{"model":"mine"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := InitProjectConfigScaffold(work, "json"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != `{"provider":{"model":"mine"}}` {
		t.Fatalf("scaffold overwrote existing config: %s", data)
	}

	yamlPath, err := InitProjectConfigScaffold(work, "yaml")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(yamlPath) != "quizlab.config.yaml" {
		t.Fatalf("yaml path=%q", yamlPath)
	}
}
