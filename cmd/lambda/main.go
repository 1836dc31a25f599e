package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/viper"

	"neonhub/handler"
	"neonhub/internal/app"
	"neonhub/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	v := viper.New()
	config.LambdaDefaults(v)
	cfg, err := config.Load(v, "")
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	// ---- Service ----
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to build chat service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(a.Chat)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
