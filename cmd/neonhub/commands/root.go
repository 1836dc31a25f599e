package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"neonhub/internal/app"
	"neonhub/internal/config"
	"neonhub/internal/server"
)

type rootOptions struct {
	v          *viper.Viper
	configFile string
	envFiles   []string

	cfg    config.Config
	logger *slog.Logger
}

// buildChat is replaced in tests.
var buildChat = func(ctx context.Context, cfg config.Config, logger *slog.Logger) (server.ChatService, func() error, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a.Chat, a.Close, nil
}

func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	root := &cobra.Command{
		Use:           "neonhub",
		Short:         "Neon X Hub IA, a Lua/Luau and Roblox assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(opts.envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load(opts.v, opts.configFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = config.NewLogger(cfg, cmd.ErrOrStderr())
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (yaml, toml or json)")
	pf.StringSliceVar(&opts.envFiles, "env-file", nil, ".env files to load (default .env)")
	pf.String(config.KeyProvider, "", "model provider: gemini or openai (default gemini)")
	pf.String(config.KeyModel, "", "model name")
	pf.String(config.KeyOpenAIBaseURL, "", "base URL of an OpenAI-compatible endpoint")
	pf.String(config.KeyParamPrefix, "", "SSM parameter prefix for the API token, prompt and model")
	pf.String(config.KeyStore, "", "session store: memory, sqlite or dynamodb (default memory)")
	pf.String(config.KeySQLitePath, "", "SQLite database path (default data/neonhub.db)")
	pf.String(config.KeyStateTable, "", "DynamoDB table for sessions")
	pf.Float64(config.KeyTemperature, 0, "sampling temperature (default 0.7)")
	pf.String(config.KeyLogLevel, "", "log level: debug, info, warn or error")
	pf.String(config.KeyLogFormat, "", "log format: text or json")
	bindFlags(opts.v, pf.Lookup,
		config.KeyProvider, config.KeyModel, config.KeyOpenAIBaseURL, config.KeyParamPrefix,
		config.KeyStore, config.KeySQLitePath, config.KeyStateTable, config.KeyTemperature,
		config.KeyLogLevel, config.KeyLogFormat,
	)

	root.AddCommand(serveCmd(opts), askCmd(opts))
	return root
}
