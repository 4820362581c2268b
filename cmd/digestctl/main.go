package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/pauljones0/rfd-deal-digest/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := cli.NewCommand().ExecuteContext(ctx); err != nil {
		slog.Error("digestctl failed", "error", err)
		stop()
		os.Exit(1)
	}
}
