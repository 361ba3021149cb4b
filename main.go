package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"subsurface/internal/config"
	"subsurface/internal/observability"
	"subsurface/internal/platform"
	"subsurface/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	observability.Init(observability.LogConfig{
		Level:   cfg.LogLevel,
		Verbose: cfg.LogVerbose,
		Format:  cfg.LogFormat,
	})
	logger := observability.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:     cfg.OTELEnabled,
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.OTELServiceName,
		Environment: cfg.OTELEnvironment,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			logger.Warn(nil, "otel shutdown failed", observability.AttrErr(err))
		}
	}()

	if cfg.CORSAllowsAnyOrigin() {
		logger.Warn(ctx, "CORS allows any origin; set CORS_ALLOWED_ORIGINS before exposing this server",
			"allow_credentials", cfg.CORSAllowCredentials)
	}

	p := platform.New(cfg)
	if err := p.Initialize(ctx); err != nil {
		log.Fatalf("platform: %v", err)
	}
	defer p.Close()

	srv := server.New(cfg, p)
	if cfg.MCPHTTPEnabled {
		ts, err := p.ToolServer()
		if err != nil {
			log.Fatalf("tool server: %v", err)
		}
		srv.Mount("/mcp", ts.HTTPHandler())
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error(nil, "server stopped", observability.AttrErr(err))
		os.Exit(1)
	}
	logger.Info(nil, "server stopped")
}
