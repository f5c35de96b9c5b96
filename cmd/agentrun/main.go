// Command agentrun runs the task-execution service: an HTTP API that
// creates agent tasks, streams their lifecycle events over SSE and bridges
// websocket terminals into task sandboxes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentrun"
	anthropicmodel "github.com/hupe1980/agentrun/model/anthropic"
	openaimodel "github.com/hupe1980/agentrun/model/openai"

	"github.com/hupe1980/agentrun/config"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/mcp"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/sandbox"
	"github.com/hupe1980/agentrun/server"
	"github.com/hupe1980/agentrun/task"
	"github.com/hupe1980/agentrun/tool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agentrun:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to the YAML configuration file")
		addr       = flag.String("addr", "", "listen address (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	level, err := logging.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(&logging.Config{Level: level, Format: cfg.Logging.Format})

	llm, err := buildModel(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var callers []tool.MCPCaller
	for _, mcpCfg := range cfg.MCP {
		client, err := mcp.Connect(ctx, mcpCfg, func(o *mcp.Options) { o.Logger = logger })
		if err != nil {
			return fmt.Errorf("connect MCP server %q: %w", mcpCfg.ID, err)
		}
		defer client.Close()
		callers = append(callers, client)
	}

	var store *task.Store
	if cfg.Store.Path != "" {
		store, err = task.NewStore(ctx, cfg.Store.Path)
		if err != nil {
			return err
		}
	}

	engine := agentrun.New(llm, func(o *agentrun.Options) {
		o.MaxSteps = cfg.Agent.MaxSteps
		o.DuplicateThreshold = cfg.Agent.DuplicateThreshold
		o.MaxObserve = cfg.Agent.MaxObserve
		o.SystemPrompt = cfg.Agent.SystemPrompt
		o.MCPCallers = callers
		o.Store = store
		o.Logger = logger
		o.SandboxFactory = func(ctx context.Context, id string) (sandbox.Sandbox, error) {
			return sandbox.NewLocal(id, func(lo *sandbox.LocalOptions) {
				if cfg.Sandbox.Root != "" {
					lo.WorkDir = cfg.Sandbox.Root + "/" + id
				}
				lo.DefaultTimeout = cfg.Sandbox.CommandTimeout
				lo.MaxOutputBytes = cfg.Sandbox.MaxOutputBytes
				lo.Logger = logger
			})
		}
	})

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(engine.Registry(), func(o *server.Options) {
			o.HeartbeatInterval = cfg.Server.HeartbeatInterval
			o.Logger = logger
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server.shutdown.error", "error", err.Error())
	}

	return engine.Close(shutdownCtx)
}

func buildModel(cfg *config.Config) (model.Model, error) {
	switch cfg.Model.Provider {
	case "openai":
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			if cfg.Model.Name != "" {
				o.Model = cfg.Model.Name
			}
			o.Temperature = cfg.Model.Temperature
		}), nil
	case "anthropic":
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if cfg.Model.Name != "" {
				o.Model = anthropic.Model(cfg.Model.Name)
			}
			o.Temperature = cfg.Model.Temperature
			o.APIKey = cfg.Model.APIKey
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}
