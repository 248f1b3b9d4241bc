package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"consulta-go/internal/cli/schemactl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := schemactl.Run(ctx, os.Args[1:], schemactl.Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	stop()
	os.Exit(code)
}
