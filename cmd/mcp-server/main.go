// Command mcp-server exposes the question tools over MCP stdio.
package main

import (
	"context"
	"log"
	"os"

	"go.uber.org/zap"

	"consulta-go/internal/app"
	"consulta-go/internal/config"
	"consulta-go/internal/mcptool"
)

func main() {
	// stdout carries the protocol, so logs go to stderr only.
	logger, err := config.NewLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(envFile())
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg.Log(logger)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer a.Close()

	srv := mcptool.NewServer(a.Consulta, app.Name, a.Info.Version, logger)
	logger.Info("MCP server listening on stdio")
	if err := srv.ServeStdio(); err != nil {
		logger.Error("MCP server stopped", zap.Error(err))
	}
}

func envFile() string {
	if path := os.Getenv("ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}
