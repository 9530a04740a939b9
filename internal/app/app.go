// Package app assembles the application: database, migrations, tracing,
// the Gemini client, the conversation store, the retriever, and the engine.
// All dependencies are constructed here and injected explicitly; nothing
// reaches for global state.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/zhiwen0/zhiwen/internal/config"
	"github.com/zhiwen0/zhiwen/internal/database"
	"github.com/zhiwen0/zhiwen/internal/engine"
	"github.com/zhiwen0/zhiwen/internal/gemini"
	"github.com/zhiwen0/zhiwen/internal/log"
	"github.com/zhiwen0/zhiwen/internal/memory"
	"github.com/zhiwen0/zhiwen/internal/observability"
	"github.com/zhiwen0/zhiwen/internal/prompt"
	"github.com/zhiwen0/zhiwen/internal/retrieval"
)

// App holds the assembled application components.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool   *pgxpool.Pool
	Memory *memory.Store
	Index  *retrieval.PgIndex
	Gemini *gemini.Client
	Engine *engine.Engine

	tracingShutdown func(context.Context) error
}

// Setup creates and initializes the application. On error, everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	shutdown, err := observability.Setup(ctx, observability.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.tracingShutdown = shutdown

	if err := database.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.Pool = pool

	store, err := memory.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating memory store: %w", err)
	}
	a.Memory = store

	client, err := gemini.New(ctx, gemini.Config{
		APIKey:        cfg.GeminiAPIKey,
		Model:         cfg.ModelName,
		EmbedderModel: cfg.EmbedderModel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	a.Gemini = client

	index, err := retrieval.NewPgIndex(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chunk index: %w", err)
	}
	a.Index = index

	retriever, err := retrieval.NewRetriever(client, index, retrieval.Config{
		TopK:   cfg.RetrievalTopK,
		FetchK: cfg.RetrievalFetchK,
		Lambda: cfg.RetrievalLambda,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	eng, err := engine.New(engine.Config{
		Memory:    store,
		Retriever: retriever,
		Model:     client,
		Assembler: prompt.New(prompt.Persona{
			Name:  cfg.PersonaName,
			Owner: cfg.PersonaOwner,
		}),
		Logger: logger,
		Params: engine.Params{
			Temperature:     cfg.Temperature,
			MaxOutputTokens: int32(cfg.MaxTokens),
		},
		MaxHistoryTurns: cfg.MaxHistoryTurns,
		WindowChars:     cfg.HistoryWindowChars,
		RateLimiter:     limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	a.Engine = eng

	return a, nil
}

// Close releases application resources in reverse construction order.
func (a *App) Close() error {
	if a.Pool != nil {
		a.Pool.Close()
		a.Pool = nil
	}
	if a.tracingShutdown != nil {
		shutdown := a.tracingShutdown
		a.tracingShutdown = nil
		if err := shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutting down tracing: %w", err)
		}
	}
	return nil
}
