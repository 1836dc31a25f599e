package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"neonhub/internal/config"
	"neonhub/internal/server"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat UI and its API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := opts.cfg

			chat, closeChat, err := buildChat(ctx, cfg, opts.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeChat(); err != nil {
					opts.logger.Warn("close session store", "err", err)
				}
			}()

			srv, err := server.New(chat, server.Options{
				Logger:         opts.logger,
				RateLimit:      cfg.RateLimit,
				RateBurst:      cfg.RateBurst,
				HighlightStyle: cfg.HighlightStyle,
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return srv.Run(ctx, cfg.ListenAddr)
		},
	}

	f := cmd.Flags()
	f.String(config.KeyListenAddr, "", "listen address (default :8080)")
	f.Float64(config.KeyRateLimit, 0, "sends per second per client IP, 0 disables (default 0.5)")
	f.Int(config.KeyRateBurst, 0, "burst of sends per client IP (default 5)")
	f.String(config.KeyHighlightStyle, "", "chroma style for code blocks (default monokai)")
	f.Duration(config.KeyMemoryIdleTTL, 0, "drop in-memory sessions idle this long, 0 keeps them (default 24h)")
	bindFlags(opts.v, f.Lookup, config.KeyListenAddr, config.KeyRateLimit, config.KeyRateBurst, config.KeyHighlightStyle,
		config.KeyMemoryIdleTTL)
	return cmd
}
