package bootstrap

import (
	"errors"
	"fmt"
	"io"

	"quizlab/internal/config"
	"quizlab/internal/diagnose"
	"quizlab/internal/provider"
	"quizlab/internal/proxy"
	"quizlab/internal/storage"
	"quizlab/internal/tokens"
	"quizlab/internal/usage"

	"github.com/charmbracelet/log"
)

// Options 构建时的可选项 / Options tune Build.
type Options struct {
	// LogWriter 日志输出，默认 stderr / LogWriter receives log output; stderr when nil.
	LogWriter io.Writer
	// Verbose 强制 debug 级别 / Verbose forces the debug level.
	Verbose bool
	// Notifier 接收配额警告 / Notifier receives quota warnings.
	Notifier usage.Notifier
	// Ephemeral 使用内存存储，不落盘 / Ephemeral keeps all state in memory.
	Ephemeral bool
}

// App 与 UI 无关的构建结果，命令行各子命令共享
// App is the UI-agnostic wiring shared by every CLI command.
type App struct {
	Config    config.Config
	Logger    *log.Logger
	Store     *storage.SQLiteStore
	KV        storage.KV
	Counter   *usage.Counter
	Tokenizer *tokens.Tokenizer
}

// Build 按依赖顺序初始化；调用方负责 defer app.Close()
// Build wires logger, storage and the usage counter; the caller must defer app.Close().
// The session database itself opens lazily on first use.
func Build(cfg config.Config, opts Options) (*App, error) {
	logger := newLogger(cfg, opts)

	store, err := storage.NewSQLiteStore(sessionsPath(cfg, opts), storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}

	kv, err := openKV(cfg, opts)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init local storage: %w", err)
	}

	counter := usage.New(kv,
		usage.WithDailyLimit(cfg.Usage.DailyLimit),
		usage.WithNotifier(opts.Notifier),
		usage.WithLogger(logger),
	)
	counter.Init()

	logger.Debug("app built", "sessions", store.Path(), "ephemeral", opts.Ephemeral)
	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		KV:        kv,
		Counter:   counter,
		Tokenizer: tokens.NewTokenizerForModel(cfg.Provider.Model),
	}, nil
}

// NewProviderClient 创建指向代理（或上游）的 AI 客户端
// NewProviderClient creates the AI client for the configured base URL, normally the proxy.
func (a *App) NewProviderClient() (*provider.Client, error) {
	p := a.Config.Provider
	return provider.NewClient(provider.Config{
		BaseURL:    p.BaseURL,
		APIKey:     p.APIKey,
		Model:      p.Model,
		TimeoutMS:  p.TimeoutMS,
		MaxRetries: p.MaxRetries,
		Generation: provider.GenerationConfig{
			Temperature: p.Temperature,
			TopP:        p.TopP,
			MaxTokens:   p.MaxTokens,
		},
		Logger: a.Logger,
	})
}

// NewDiagnoseManager 使用给定 Chatter 组装诊断会话；chatter 为 nil 时使用 NewProviderClient
// NewDiagnoseManager assembles a diagnosis manager. A nil chatter means NewProviderClient.
func (a *App) NewDiagnoseManager(chatter provider.Chatter) (*diagnose.Manager, error) {
	if chatter == nil {
		client, err := a.NewProviderClient()
		if err != nil {
			return nil, err
		}
		chatter = client
	}
	return diagnose.NewManager(diagnose.Deps{
		Store:     a.Store,
		Counter:   a.Counter,
		Chatter:   chatter,
		Estimator: a.Tokenizer,
		Logger:    a.Logger,
	})
}

// NewProxyServer 创建代理服务器 / NewProxyServer creates the proxy server from config.
func (a *App) NewProxyServer() *proxy.Server {
	h := proxy.NewHandler(a.Config.Proxy.Upstream, a.Config.Proxy.APIKey, proxy.WithLogger(a.Logger))
	return proxy.NewServer(a.Config.Proxy.Listen, h)
}

// Close 释放存储资源 / Close releases storage resources.
func (a *App) Close() error {
	return errors.Join(a.Counter.Close(), a.Store.Close(), a.KV.Close())
}
