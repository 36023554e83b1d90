// Persona Chat - memory-augmented conversational agent server
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

	"github.com/ashureev/persona-chat/internal/agent"
	"github.com/ashureev/persona-chat/internal/api"
	"github.com/ashureev/persona-chat/internal/chat"
	"github.com/ashureev/persona-chat/internal/config"
	"github.com/ashureev/persona-chat/internal/identity"
	"github.com/ashureev/persona-chat/internal/llm"
	"github.com/ashureev/persona-chat/internal/memory"
	"github.com/ashureev/persona-chat/internal/middleware"
	"github.com/ashureev/persona-chat/internal/realtime"
	"github.com/ashureev/persona-chat/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"
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
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "llm_provider", cfg.LLM.Provider)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	var client *genai.Client
	if cfg.LLM.APIKey != "" {
		client, err = llm.NewClient(ctx, cfg.LLM.APIKey)
		if err != nil {
			return err
		}
	}

	var embedder memory.Embedder
	if client != nil {
		embedder, err = memory.NewGeminiEmbedder(client, cfg.LLM.EmbeddingModel)
		if err != nil {
			return err
		}
	} else {
		slog.Warn("GOOGLE_API_KEY not set, using offline hash embedder")
		embedder = memory.NewHashEmbedder(0)
	}

	memories, err := memory.Open(cfg.Memory.Dir, embedder, logger)
	if err != nil {
		return err
	}
	slog.Info("Memory index ready", "dir", cfg.Memory.Dir)

	writer := memory.NewWriter(memories, memory.WriterConfig{
		QueueSize:    cfg.Memory.QueueSize,
		Workers:      cfg.Memory.Workers,
		WriteTimeout: cfg.Memory.WriteTimeout,
		Logger:       logger,
	})
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := writer.Close(drainCtx); err != nil {
			slog.Error("Memory writer did not drain", "error", err)
		}
	}()

	var model llm.Model
	switch cfg.LLM.Provider {
	case "gemini":
		model, err = llm.NewGemini(client, llm.GeminiConfig{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxRetries:  cfg.LLM.MaxRetries,
			Timeout:     cfg.LLM.Timeout,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
	default:
		slog.Warn("Using echo model, replies are not generated by an LLM")
		model = llm.Echo{}
	}

	// Initialize services.
	executor := agent.NewExecutor(model, memories, writer, agent.Config{Logger: logger})
	chats := chat.NewService(repo, executor, chat.Config{
		SerializeTurns: cfg.SerializeChatTurns,
		Logger:         logger,
	})
	sm := realtime.NewSessionManager()
	chats.SetCloser(sm)

	tokens, err := identity.NewTokens(cfg.SecretKey, cfg.TokenTTL)
	if err != nil {
		return err
	}

	limiter, err := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration, 0)
	if err != nil {
		return err
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, chats, tokens, logger)
	healthHandler := api.NewHealthHandler(baseHandler, writer)
	authHandler := api.NewAuthHandler(baseHandler)
	chatHandler := api.NewChatHandler(baseHandler)
	chatHandler.SetSocketHandler(realtime.NewWebSocketHandler(chats, sm, cfg.AllowedOrigins()))
	requireAuth := identity.Middleware(tokens, repo)
	limitByUser := limiter.Middleware(func(r *http.Request) string {
		return identity.UserIDFromContext(r.Context())
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	authHandler.RegisterRoutes(r, requireAuth)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		chatHandler.RegisterRoutes(r, limitByUser)
	})

	// Model calls can take a while; no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		sm.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
