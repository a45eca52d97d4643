package bootstrap

import (
	"os"

	"quizlab/internal/config"
	"quizlab/internal/logging"
	"quizlab/internal/storage"

	"github.com/charmbracelet/log"
)

const memoryDSN = ":memory:"

func newLogger(cfg config.Config, opts Options) *log.Logger {
	w := opts.LogWriter
	if w == nil {
		w = os.Stderr
	}
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	return logging.New(w, level)
}

func sessionsPath(cfg config.Config, opts Options) string {
	if opts.Ephemeral {
		return memoryDSN
	}
	return cfg.SessionsPath()
}

func openKV(cfg config.Config, opts Options) (storage.KV, error) {
	if opts.Ephemeral {
		return storage.NewMemoryKV(), nil
	}
	return storage.NewSQLiteKV(cfg.KVPath())
}
