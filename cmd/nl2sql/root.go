package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-collins1/NL2SQL-sub003/internal/audit"
	"github.com/noah-collins1/NL2SQL-sub003/internal/config"
	"github.com/noah-collins1/NL2SQL-sub003/internal/executor"
	"github.com/noah-collins1/NL2SQL-sub003/internal/generate"
	"github.com/noah-collins1/NL2SQL-sub003/internal/logger"
	"github.com/noah-collins1/NL2SQL-sub003/internal/pipeline"
	"github.com/noah-collins1/NL2SQL-sub003/internal/retrieve"
)

// exit codes: 0 success, 1 configuration or usage error, 2 a backend is
// unreachable, 3 one or more exam cases failed.
const (
	exitConfig      = 1
	exitUnavailable = 2
	exitExamFailed  = 3
)

// exitErr carries a process exit code through cobra's error path.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

func exitf(code int, format string, args ...interface{}) *exitErr {
	return &exitErr{code: code, err: fmt.Errorf(format, args...)}
}

var configDir string

var rootCmd = &cobra.Command{
	Use:           "nl2sql",
	Short:         "Answer natural-language questions with safe, read-only SQL",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".",
		"directory holding config.yaml (and optional config.local.yaml)")
	rootCmd.AddCommand(serveCmd, askCmd, examCmd, indexCmd)
}

// app bundles the wired components behind every subcommand.
type app struct {
	cfg  *config.Config
	log  *logger.Logger
	pipe *pipeline.Pipeline
	exec executor.Executor
	sink *audit.Sink
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, exitf(exitConfig, "load config: %v", err)
	}
	log := logger.NewStderr(logger.ParseLevel(cfg.Log.Level))

	store, err := retrieve.OpenStore(cfg.Index.DSN)
	if err != nil {
		return nil, exitf(exitUnavailable, "open schema index: %v", err)
	}
	embedder := retrieve.NewHTTPEmbedder(cfg.Index.EmbedURL, 30*time.Second)
	retriever := retrieve.New(store, embedder, cfg.Retrieval, log)

	var backend generate.Backend
	switch cfg.Generation.Backend {
	case "model":
		backend, err = generate.NewModelBackend(cfg.Generation.Model, cfg.Generation.BaseURL, cfg.Generation.APIKey)
		if err != nil {
			return nil, exitf(exitConfig, "model backend: %v", err)
		}
	default:
		backend = generate.NewSidecarBackend(cfg.Generation.SidecarURL,
			time.Duration(cfg.Generation.TimeoutSec)*time.Second)
	}

	exec, err := executor.Open(cfg.Database, executor.Options{
		ProbeTimeout: time.Duration(cfg.Executor.ProbeTimeoutMS) * time.Millisecond,
		ExecTimeout:  time.Duration(cfg.Executor.ExecTimeoutMS) * time.Millisecond,
		MaxRows:      cfg.Executor.MaxRows,
	})
	if err != nil {
		store.Close()
		return nil, exitf(exitUnavailable, "open database: %v", err)
	}

	var sink *audit.Sink
	if cfg.Audit.Enabled {
		sink, err = audit.NewSink(cfg.Audit.Path)
		if err != nil {
			log.Warnf("audit trail disabled: %v", err)
			sink = nil
		}
	}

	return &app{
		cfg:  cfg,
		log:  log,
		pipe: pipeline.New(cfg, retriever, generate.NewSpeculator(backend, log), exec, sink, log),
		exec: exec,
		sink: sink,
	}, nil
}

func (a *app) close() {
	if a.sink != nil {
		a.sink.Close()
	}
	a.exec.Close()
}

// checkHealth pings the database and the generation backend before serving.
func (a *app) checkHealth(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.pipe.Health(hctx); err != nil {
		return exitf(exitUnavailable, "health check: %v", err)
	}
	return nil
}
