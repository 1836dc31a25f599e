package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"neonhub/cmd/neonhub/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "neonhub:", err)
		stop()
		os.Exit(1)
	}
}
