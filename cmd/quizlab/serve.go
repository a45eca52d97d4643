package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizlab/internal/bootstrap"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the AI proxy that holds the upstream API key",
		Long: "Run the AI proxy. POST /api/proxy is forwarded to the upstream /chat/completions\n" +
			"with the server-side key; /health and /metrics are served alongside.",
		Args: cobra.NoArgs,
		RunE: withApp(root, func(ctx context.Context, app *bootstrap.App, _ []string) error {
			if listen != "" {
				app.Config.Proxy.Listen = listen
			}
			if app.Config.Proxy.APIKey == "" {
				app.Logger.Warn("no upstream api key configured; requests will fail with 500", "env", "DEEPSEEK_API_KEY")
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveProxy(ctx, app, nil)
		}),
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
	return cmd
}

// serveProxy 运行代理直到 ctx 取消，然后优雅关闭；ln 为 nil 时监听配置地址
// serveProxy runs the proxy until ctx is cancelled, then shuts it down gracefully.
// A nil ln means listening on the configured address.
func serveProxy(ctx context.Context, app *bootstrap.App, ln net.Listener) error {
	srv := app.NewProxyServer()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if ln != nil {
			err = srv.Serve(ln)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil {
			return fmt.Errorf("proxy server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.Logger.Info("proxy shutting down", "upstream", app.Config.Proxy.Upstream)
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
