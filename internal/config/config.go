package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ProviderConfig struct {
	BaseURL     string  `json:"base_url" yaml:"base_url"`
	Model       string  `json:"model" yaml:"model"`
	APIKey      string  `json:"api_key" yaml:"api_key"`
	TimeoutMS   int     `json:"timeout_ms" yaml:"timeout_ms"`
	MaxRetries  int     `json:"max_retries" yaml:"max_retries"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	TopP        float64 `json:"top_p" yaml:"top_p"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
}

type ProxyConfig struct {
	Listen   string `json:"listen" yaml:"listen"`
	Upstream string `json:"upstream" yaml:"upstream"`
	// APIKey 上游密钥，只保存在服务端 / APIKey is the upstream key held by the server only.
	APIKey string `json:"api_key" yaml:"api_key"`
}

type StorageConfig struct {
	BaseDir    string `json:"base_dir" yaml:"base_dir"`
	SessionsDB string `json:"sessions_db" yaml:"sessions_db"`
	KVDB       string `json:"kv_db" yaml:"kv_db"`
}

type UsageConfig struct {
	DailyLimit int `json:"daily_limit" yaml:"daily_limit"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

type Config struct {
	Provider ProviderConfig `json:"provider" yaml:"provider"`
	Proxy    ProxyConfig    `json:"proxy" yaml:"proxy"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Usage    UsageConfig    `json:"usage" yaml:"usage"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// fileUsageConfig 用指针区分“未设置”与显式 0
// fileUsageConfig uses a pointer so an explicit 0 limit differs from "unset".
type fileUsageConfig struct {
	DailyLimit *int `json:"daily_limit" yaml:"daily_limit"`
}

type fileConfig struct {
	Provider *ProviderConfig  `json:"provider" yaml:"provider"`
	Proxy    *ProxyConfig     `json:"proxy" yaml:"proxy"`
	Storage  *StorageConfig   `json:"storage" yaml:"storage"`
	Usage    *fileUsageConfig `json:"usage" yaml:"usage"`
	Log      *LogConfig       `json:"log" yaml:"log"`
}

func Default() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:    DefaultProviderBaseURL,
			Model:      DefaultProviderModel,
			TimeoutMS:  DefaultProviderTimeoutMS,
			MaxRetries: DefaultProviderMaxRetries,
		},
		Proxy: ProxyConfig{
			Listen:   DefaultProxyListen,
			Upstream: DefaultProxyUpstream,
		},
		Storage: StorageConfig{
			BaseDir:    DefaultStorageBaseDir,
			SessionsDB: DefaultSessionsDB,
			KVDB:       DefaultKVDB,
		},
		Usage: UsageConfig{DailyLimit: DefaultDailyLimit},
		Log:   LogConfig{Level: DefaultLogLevel},
	}
}

// SessionsPath 会话数据库的绝对路径 / SessionsPath is the absolute session database path.
func (c Config) SessionsPath() string {
	return resolveUnder(c.Storage.BaseDir, c.Storage.SessionsDB)
}

// KVPath 本地键值库的绝对路径 / KVPath is the absolute key-value database path.
func (c Config) KVPath() string {
	return resolveUnder(c.Storage.BaseDir, c.Storage.KVDB)
}

func resolveUnder(base, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(base, name)
}

// Load 依次合并：默认值、全局配置、项目配置（或 path / QUIZLAB_CONFIG）、环境变量
// Load layers defaults, the global config, the project config (or path / QUIZLAB_CONFIG)
// and finally environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if resolvedPath == "" {
		resolvedPath = strings.TrimSpace(os.Getenv("QUIZLAB_CONFIG"))
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	} else if _, err := os.Stat(resolvedPath); err != nil {
		// 显式指定的文件必须存在 / An explicitly named file must exist.
		return Config{}, fmt.Errorf("config %q: %w", resolvedPath, err)
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	dir := filepath.Join(home, ".quizlab")
	return []string{
		filepath.Join(dir, "config.json"),
		filepath.Join(dir, "config.yaml"),
	}
}

func findProjectConfigPath() string {
	candidates := []string{
		"quizlab.config.json",
		"quizlab.config.yaml",
		".quizlab/config.json",
		".quizlab/config.yaml",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	var fileCfg fileConfig
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return fmt.Errorf("parse config %q: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(stripJSONComments(data), &fileCfg); err != nil {
			return fmt.Errorf("parse config %q: %w", resolved, err)
		}
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Proxy != nil {
		cfg.Proxy = mergeProxy(cfg.Proxy, *fc.Proxy)
	}
	if fc.Storage != nil {
		cfg.Storage = mergeStorage(cfg.Storage, *fc.Storage)
	}
	if fc.Usage != nil && fc.Usage.DailyLimit != nil {
		cfg.Usage.DailyLimit = *fc.Usage.DailyLimit
	}
	if fc.Log != nil && strings.TrimSpace(fc.Log.Level) != "" {
		cfg.Log.Level = fc.Log.Level
	}
}

func mergeProvider(base ProviderConfig, override ProviderConfig) ProviderConfig {
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	if override.MaxRetries > 0 {
		base.MaxRetries = override.MaxRetries
	}
	if override.Temperature > 0 {
		base.Temperature = override.Temperature
	}
	if override.TopP > 0 {
		base.TopP = override.TopP
	}
	if override.MaxTokens > 0 {
		base.MaxTokens = override.MaxTokens
	}
	return base
}

func mergeProxy(base ProxyConfig, override ProxyConfig) ProxyConfig {
	if strings.TrimSpace(override.Listen) != "" {
		base.Listen = override.Listen
	}
	if strings.TrimSpace(override.Upstream) != "" {
		base.Upstream = override.Upstream
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	return base
}

func mergeStorage(base StorageConfig, override StorageConfig) StorageConfig {
	if strings.TrimSpace(override.BaseDir) != "" {
		base.BaseDir = override.BaseDir
	}
	if strings.TrimSpace(override.SessionsDB) != "" {
		base.SessionsDB = override.SessionsDB
	}
	if strings.TrimSpace(override.KVDB) != "" {
		base.KVDB = override.KVDB
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()
	cfg.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Provider.BaseURL), "/")
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	cfg.Provider.Model = strings.TrimSpace(cfg.Provider.Model)
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}
	if cfg.Provider.MaxRetries < 0 {
		cfg.Provider.MaxRetries = 0
	}

	if strings.TrimSpace(cfg.Proxy.Listen) == "" {
		cfg.Proxy.Listen = def.Proxy.Listen
	}
	cfg.Proxy.Upstream = strings.TrimRight(strings.TrimSpace(cfg.Proxy.Upstream), "/")
	if cfg.Proxy.Upstream == "" {
		cfg.Proxy.Upstream = def.Proxy.Upstream
	}

	if strings.TrimSpace(cfg.Storage.BaseDir) == "" {
		cfg.Storage.BaseDir = def.Storage.BaseDir
	}
	storageDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	cfg.Storage.BaseDir = storageDir
	if strings.TrimSpace(cfg.Storage.SessionsDB) == "" {
		cfg.Storage.SessionsDB = def.Storage.SessionsDB
	}
	if strings.TrimSpace(cfg.Storage.KVDB) == "" {
		cfg.Storage.KVDB = def.Storage.KVDB
	}

	if cfg.Usage.DailyLimit < 0 {
		return fmt.Errorf("usage.daily_limit must not be negative: %d", cfg.Usage.DailyLimit)
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("QUIZLAB_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("QUIZLAB_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("QUIZLAB_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("DEEPSEEK_API_KEY")); v != "" {
		cfg.Proxy.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("QUIZLAB_LISTEN")); v != "" {
		cfg.Proxy.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("QUIZLAB_HOME")); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := strings.TrimSpace(os.Getenv("QUIZLAB_DAILY_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid QUIZLAB_DAILY_LIMIT: %q", v)
		}
		cfg.Usage.DailyLimit = n
	}
	if v := strings.TrimSpace(os.Getenv("QUIZLAB_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}

	return cfg, normalize(&cfg)
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
