package main

import (
	"log/slog"
	"os"

	"github.com/dwizi/lab-relay/internal/cli"
	"github.com/dwizi/lab-relay/internal/config"
)

func main() {
	level := config.FromEnv().SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	if err := cli.NewRoot(logger).Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
