// Package main is the steward daemon: one binary carrying the stream
// control plane, the approval gateway, the sandboxed tool layer, and
// the websocket/HTTP gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stewardhq/steward/internal/approval"
	"github.com/stewardhq/steward/internal/common/config"
	"github.com/stewardhq/steward/internal/common/httpmw"
	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/events"
	"github.com/stewardhq/steward/internal/executor"
	"github.com/stewardhq/steward/internal/gateway/httpapi"
	gateways "github.com/stewardhq/steward/internal/gateway/websocket"
	"github.com/stewardhq/steward/internal/gitops"
	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/mcpserver"
	"github.com/stewardhq/steward/internal/persistence"
	"github.com/stewardhq/steward/internal/shell"
	"github.com/stewardhq/steward/internal/stream"
	"github.com/stewardhq/steward/internal/terminal"
	"github.com/stewardhq/steward/internal/tools"
	"github.com/stewardhq/steward/internal/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting steward...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer closeBus()

	// Persistence: sqlite file or postgres pool.
	store, closeStore, err := persistence.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("Store close error", zap.Error(err))
		}
	}()

	// Approval gateway, mirrored onto the bus for the UI affordance.
	mode, err := approval.ParseMode(cfg.Approvals.Mode)
	if err != nil {
		log.Fatal("Invalid approval mode", zap.Error(err))
	}
	gateway := approval.NewGateway(mode, cfg.Approvals.TimeoutDuration(), log)
	gateway.AddObserver(approval.NewBusPublisher(eventBus, log))

	// Workspace jail and the services that live inside it.
	validator, err := workspace.NewValidator(cfg.Execution.WorkspaceRoot)
	if err != nil {
		log.Fatal("Failed to resolve workspace root", zap.Error(err))
	}
	fs := workspace.NewFileSystem(validator)
	git := gitops.NewService(validator, log)

	exec := executor.New(executor.Config{
		Enabled:          cfg.Execution.Enabled,
		WorkspaceDir:     validator.Root(),
		Timeout:          cfg.Execution.CommandTimeoutDuration(),
		StdoutLimit:      cfg.Execution.StdoutLimit,
		StderrLimit:      cfg.Execution.StderrLimit,
		NetworkIsolation: cfg.Execution.NetworkIsolation,
	}, gateway, log)

	shellCfg := shell.Config{
		WorkspaceDir:     validator.Root(),
		Timeout:          cfg.Execution.CommandTimeoutDuration(),
		OutputLimit:      cfg.Execution.StdoutLimit,
		NetworkIsolation: cfg.Execution.NetworkIsolation,
	}

	registry, closeTools := tools.Provide(exec, shellCfg, fs, git, gateway, log)
	defer closeTools()

	// Provider registry from the manifest; mock is always available.
	manifest := loadManifest(cfg, log)
	providers := llm.NewRegistry(manifest, log)
	defaultProvider := cfg.Providers.Default
	if defaultProvider == "" && len(manifest.Providers) > 0 {
		defaultProvider = manifest.Providers[0].Name
	}

	// Stream control plane.
	manager := stream.NewManager(eventBus, cfg.Streams.FlushInterval(), log)
	streamSvc := stream.NewService(manager, providers, gateway, registry, store, eventBus, stream.ServiceConfig{
		DefaultProvider: defaultProvider,
		MaxTurns:        cfg.Streams.MaxTurns,
		SystemPrompt:    cfg.Streams.SystemPrompt,
	}, log)

	// Supervisor terminals.
	terminals := terminal.NewManager(terminal.Config{
		Enabled:      cfg.Terminal.Enabled,
		Shell:        cfg.Terminal.Shell,
		WorkspaceDir: validator.Root(),
	}, eventBus, log)
	defer terminals.Close()

	// Realtime gateway.
	wsGateway, err := gateways.Provide(gateways.Services{
		Streams:       streamSvc,
		Approvals:     gateway,
		Conversations: store,
		Terminals:     terminals,
	}, eventBus, log)
	if err != nil {
		log.Fatal("Failed to start websocket gateway", zap.Error(err))
	}
	defer wsGateway.Broadcaster.Close()

	// Optional MCP server exposing the same tool layer.
	_, closeMCP, err := mcpserver.Provide(ctx, mcpserver.Config{
		Enabled: cfg.MCP.Enabled,
		Port:    cfg.MCP.Port,
	}, registry.Runner("mcp", nil), log)
	if err != nil {
		log.Fatal("Failed to start MCP server", zap.Error(err))
	}
	defer func() {
		if err := closeMCP(); err != nil {
			log.Error("MCP server stop error", zap.Error(err))
		}
	}()

	// HTTP server: REST API plus the websocket endpoint.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.CORS(""))
	router.Use(httpmw.RequestLogger(log, "steward"))
	router.Use(httpmw.OtelTracing("steward"))

	wsGateway.SetupRoutes(router)
	httpapi.NewServer(streamSvc, gateway, store, log).RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsGateway.Hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("Server listening",
			zap.String("addr", server.Addr),
			zap.String("websocket", "/ws"),
			zap.String("api", "/api/v1"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down steward...")

	// Stop order matters: cancel streams first so no stream blocks on an
	// approval that can never arrive, then withdraw pending approvals,
	// then wait for the stream tasks to drain.
	stopped := streamSvc.StopAll()
	cancelled := gateway.CancelAll()
	streamSvc.Wait()
	log.Info("Streams drained",
		zap.Int("streams_stopped", stopped),
		zap.Int("approvals_cancelled", cancelled))

	cancel()
	if err := g.Wait(); err != nil {
		log.Error("Shutdown error", zap.Error(err))
	}

	log.Info("Steward stopped")
}

// loadManifest reads the provider manifest, falling back to a
// mock-only manifest so a fresh install can stream without
// credentials.
func loadManifest(cfg *config.Config, log *logger.Logger) *llm.Manifest {
	m, err := llm.LoadManifest(cfg.Providers.ManifestPath)
	if err != nil {
		log.Warn("Provider manifest unavailable, using mock provider only",
			zap.String("path", cfg.Providers.ManifestPath),
			zap.Error(err))
		return &llm.Manifest{Providers: []llm.ProviderSpec{
			{Name: "mock", Kind: "mock", Model: "mock-1"},
		}}
	}
	return m
}
