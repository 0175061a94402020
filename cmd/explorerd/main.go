package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/blockscope/explorer/internal/app/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	if err := run(ctx); err != nil {
		log.Fatalf("explorerd: %v", err)
	}
}

func run(ctx context.Context) error {
	app, err := runtime.NewApplication(ctx)
	if err != nil {
		return err
	}
	if err := app.Run(ctx); err != nil {
		return err
	}
	return app.Shutdown(context.Background())
}
