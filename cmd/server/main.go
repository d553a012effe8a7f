// DoQ - contract negotiation mediator server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ashureev/doq-mediator/internal/api"
	"github.com/ashureev/doq-mediator/internal/chat"
	"github.com/ashureev/doq-mediator/internal/config"
	"github.com/ashureev/doq-mediator/internal/guard"
	"github.com/ashureev/doq-mediator/internal/history"
	"github.com/ashureev/doq-mediator/internal/identity"
	"github.com/ashureev/doq-mediator/internal/middleware"
	"github.com/ashureev/doq-mediator/internal/oracle"
	"github.com/ashureev/doq-mediator/internal/orchestrator"
	"github.com/ashureev/doq-mediator/internal/prompt"
	"github.com/ashureev/doq-mediator/internal/retrieval"
	"github.com/ashureev/doq-mediator/internal/session"
	"github.com/ashureev/doq-mediator/internal/store"
	"github.com/ashureev/doq-mediator/internal/telemetry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Server.Port, "dev", cfg.IsDevelopment(), "provider", cfg.LLM.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdownTracer, err := telemetry.InitTracer(cfg.Tracing.ServiceName, logger)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(flushCtx); err != nil {
				slog.Error("Failed to flush traces", "error", err)
			}
		}()
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.Store.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	snapshots, err := session.NewStore(repo, cfg.Store.CacheSize, logger)
	if err != nil {
		slog.Error("Failed to initialize snapshot store", "error", err)
		os.Exit(1)
	}

	registry := oracle.NewRegistry()
	oracle.RegisterBuiltins(registry)
	backend, err := registry.New(ctx, oracle.ProviderConfig{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  cfg.LLM.Timeout,
	})
	if err != nil {
		slog.Error("Failed to initialize oracle", "error", err, "available", registry.Providers())
		os.Exit(1)
	}
	slog.Info("Oracle initialized", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	retriever := buildRetriever(ctx, backend, cfg, logger)

	budget, err := prompt.NewBudget(cfg.Turn.PromptTokenBudget)
	if err != nil {
		slog.Error("Failed to initialize prompt budget", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	hub := chat.NewHub()
	limiter := chat.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()

	turns := orchestrator.New(orchestrator.Deps{
		Snapshots: snapshots,
		History:   history.NewReader(repo, cfg.Turn.HistoryLimit, logger),
		Log:       repo,
		Directory: repo,
		Oracle:    oracle.Traced(backend, cfg.LLM.Provider, cfg.LLM.Model),
		Retriever: retriever,
		Guard:     guard.Default(),
		Budget:    budget,
		Out:       hub,
		Logger:    logger,
	}, orchestrator.Options{
		AgreementWindow:   cfg.Turn.AgreementWindow,
		QuestionDetection: cfg.Turn.QuestionDetection,
		TopK:              cfg.RAG.TopK,
		Temperature:       float32(cfg.LLM.Temperature),
		MaxTokens:         int32(cfg.LLM.MaxTokens),
	})

	// Initialize handlers.
	apiHandler := api.NewHandler(snapshots, repo, repo, hub, logger)
	healthHandler := api.NewHealthHandler(repo)
	origins := cfg.Origins()
	wsOrigin := "*"
	if len(origins) == 1 {
		wsOrigin = origins[0]
	}
	wsHandler := chat.NewHandler(turns, hub, repo, chat.NewSessionLocks(), limiter, wsOrigin, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(origins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Route("/v1", func(r chi.Router) {
		apiHandler.Routes(r)
		// WebSocket endpoint.
		r.Get("/session/chat", wsHandler.ServeHTTP)
	})

	// Note: WebSocket turns may run for minutes, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(r, cfg.Tracing.ServiceName),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start retention worker.
	session.StartRetentionWorker(ctx, repo, snapshots, cfg.Store.Retention, cfg.Store.SweepInterval, hub.CloseSession)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}

// buildRetriever indexes the reference directory with Gemini embeddings when
// the oracle is Gemini-backed. Any failure degrades to no retrieval.
func buildRetriever(ctx context.Context, backend oracle.Oracle, cfg *config.Config, logger *slog.Logger) retrieval.Retriever {
	g, ok := backend.(*oracle.Gemini)
	if !ok || cfg.RAG.ReferenceDir == "" {
		slog.Info("Reference retrieval disabled", "provider", cfg.LLM.Provider)
		return retrieval.Nop{}
	}

	embedder, err := retrieval.NewGenAIEmbedder(g.Client(), cfg.LLM.EmbeddingModel)
	if err != nil {
		slog.Warn("Failed to initialize embedder, retrieval disabled", "error", err)
		return retrieval.Nop{}
	}
	r := retrieval.NewEmbeddingRetriever(embedder, logger)

	indexCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	n, err := r.LoadDir(indexCtx, cfg.RAG.ReferenceDir)
	if err != nil {
		slog.Warn("Failed to index reference documents, retrieval disabled", "dir", cfg.RAG.ReferenceDir, "error", err)
		return retrieval.Nop{}
	}
	slog.Info("Reference documents indexed", "dir", cfg.RAG.ReferenceDir, "chunks", n)
	return r
}
