package mcpserver

import (
	"context"
	"sync"
	"time"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/llm"
)

// DefaultConfig returns the default configuration. The server is
// disabled unless the config opts in.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Port:    9090,
	}
}

// Provide starts the MCP server when enabled and returns a cleanup
// function to stop it. A disabled config returns a nil server and a
// no-op cleanup.
func Provide(ctx context.Context, cfg Config, runner llm.ToolRunner, log *logger.Logger) (*Server, func() error, error) {
	if !cfg.Enabled {
		return nil, func() error { return nil }, nil
	}

	srv := New(cfg, runner, log)
	if err := srv.Start(ctx); err != nil {
		return nil, nil, err
	}

	var stopOnce sync.Once
	cleanup := func() error {
		var stopErr error
		stopOnce.Do(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopErr = srv.Stop(stopCtx)
		})
		return stopErr
	}

	return srv, cleanup, nil
}
