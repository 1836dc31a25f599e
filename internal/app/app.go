// Package app wires configuration into the chat service and its
// dependencies. Both entrypoints build through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"neonhub/internal/config"
	"neonhub/internal/integrations/gemini"
	"neonhub/internal/integrations/openai"
	"neonhub/internal/integrations/paramstore"
	"neonhub/internal/repository"
	"neonhub/internal/usecase"
)

// App holds the built service. Close releases the session store.
type App struct {
	Chat  *usecase.ChatService
	close func() error
}

func (a *App) Close() error {
	if a == nil || a.close == nil {
		return nil
	}
	return a.close()
}

// loadAWSConfig is swapped in tests.
var loadAWSConfig = func(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// Build constructs the chat service described by cfg. AWS configuration is
// only loaded when Parameter Store or DynamoDB is in use.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var awsCfg *aws.Config
	needAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := loadAWSConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load aws config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	var params paramstore.Getter
	if cfg.ParamPrefix != "" {
		c, err := needAWS()
		if err != nil {
			return nil, err
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(c), paramstore.WithCacheTTL(cfg.ParamCacheTTL))
		if err != nil {
			return nil, fmt.Errorf("app: create paramstore client: %w", err)
		}
		params = ps
	}

	store, closeStore, err := buildStore(cfg, needAWS)
	if err != nil {
		return nil, err
	}

	llm, err := buildLLM(cfg, params)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	chat, err := usecase.NewChatService(llm, store, params, usecase.Options{
		ParamPrefix:      cfg.ParamPrefix,
		Model:            cfg.Model,
		Temperature:      float32(cfg.Temperature),
		MaxOutputTokens:  cfg.MaxOutputTokens,
		MaxContextItems:  cfg.MaxContextItems,
		MaxMessageLength: cfg.MaxMessageLength,
	})
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("app: create chat service: %w", err)
	}

	logger.Info("chat service ready",
		"provider", cfg.Provider,
		"store", cfg.Store,
		"param_store", cfg.ParamPrefix != "",
	)
	return &App{Chat: chat, close: closeStore}, nil
}

func buildStore(cfg config.Config, needAWS func() (aws.Config, error)) (usecase.SessionStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store {
	case config.StoreMemory, "":
		return repository.NewMemory(repository.WithIdleTTL(cfg.MemoryIdleTTL)), noop, nil
	case config.StoreSQLite:
		s, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open sqlite store: %w", err)
		}
		return s, s.Close, nil
	case config.StoreDynamoDB:
		c, err := needAWS()
		if err != nil {
			return nil, nil, err
		}
		s, err := repository.NewDynamo(awsdynamodb.NewFromConfig(c), cfg.StateTable)
		if err != nil {
			return nil, nil, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		return s, noop, nil
	}
	return nil, nil, fmt.Errorf("app: unknown store %q", cfg.Store)
}

func buildLLM(cfg config.Config, params paramstore.Getter) (usecase.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		var opts []gemini.Option
		if cfg.APIKey != "" {
			opts = append(opts, gemini.WithAPIKey(cfg.APIKey))
		}
		c, err := gemini.NewClient(params, cfg.ParamPrefix, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: create gemini client: %w", err)
		}
		return c, nil
	case config.ProviderOpenAI:
		var opts []openai.Option
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.APIKey))
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		c, err := openai.NewClient(params, cfg.ParamPrefix, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: create openai client: %w", err)
		}
		return c, nil
	}
	return nil, errors.New("app: unknown provider " + cfg.Provider)
}
