// AgentDesk - multi-agent sales assistant chat server
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/agentdesk/internal/agent"
	"github.com/ashureev/agentdesk/internal/api"
	"github.com/ashureev/agentdesk/internal/apiclient"
	"github.com/ashureev/agentdesk/internal/config"
	"github.com/ashureev/agentdesk/internal/container"
	"github.com/ashureev/agentdesk/internal/crm"
	"github.com/ashureev/agentdesk/internal/grpchealth"
	"github.com/ashureev/agentdesk/internal/heygen"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/ashureev/agentdesk/internal/inspect"
	"github.com/ashureev/agentdesk/internal/llm"
	"github.com/ashureev/agentdesk/internal/metrics"
	"github.com/ashureev/agentdesk/internal/middleware"
	"github.com/ashureev/agentdesk/internal/search"
	"github.com/ashureev/agentdesk/internal/solar"
	"github.com/ashureev/agentdesk/internal/store"
	"github.com/ashureev/agentdesk/internal/templates"
	"github.com/ashureev/agentdesk/internal/tools"
	"github.com/ashureev/agentdesk/internal/ws"
	"github.com/ashureev/agentdesk/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := openRegistry(cfg.Store)
	if err != nil {
		slog.Error("Failed to initialize session registry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := registry.Close(); closeErr != nil {
			slog.Error("Failed to close session registry", "error", closeErr)
		}
	}()

	if err := registry.Ping(ctx); err != nil {
		slog.Error("Session registry health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Session registry ready", "backend", cfg.Store.Backend)

	gemini, err := llm.NewGemini(ctx, cfg.LLM.APIKey,
		llm.WithModel(cfg.LLM.Model),
		llm.WithEmbeddingModel(cfg.LLM.EmbeddingModel),
	)
	if err != nil {
		slog.Error("Failed to initialize model client (set GEMINI_API_KEY)", "error", err)
		os.Exit(1)
	}
	slog.Info("Model client initialized", "model", cfg.LLM.Model)

	tpls, err := loadTemplates(ctx, cfg.Chat.TemplatesPath, gemini)
	if err != nil {
		slog.Error("Failed to load templates", "error", err)
		os.Exit(1)
	}
	slog.Info("Templates loaded", "count", tpls.Len())

	if err := os.MkdirAll(cfg.StaticDir, 0o755); err != nil {
		slog.Error("Failed to create static directory", "dir", cfg.StaticDir, "error", err)
		os.Exit(1)
	}

	services, closeBrowser := buildServices(ctx, cfg)
	defer closeBrowser()
	toolset := tools.Catalog(services)
	slog.Info("Tools registered", "tools", toolset.Names())

	mgr := ws.NewManager()
	tracker := agent.NewTracker()
	collector := metrics.New(metrics.Gauges{
		Connections:     mgr.Count,
		TrackedRequests: tracker.Len,
	})

	conversationLogger, err := agent.NewConversationLogger(cfg.ConversationLog, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	svc, err := agent.NewService(agent.ServiceConfig{
		Registry:    registry,
		Model:       gemini,
		Emitter:     mgr,
		Tools:       toolset,
		Templates:   tpls,
		Tracker:     tracker,
		Logger:      conversationLogger,
		Observer:    collector,
		Chat:        cfg.Chat,
		Temperature: &cfg.LLM.Temperature,
	})
	if err != nil {
		slog.Error("Failed to initialize agent service", "error", err)
		os.Exit(1)
	}

	limiter := agent.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	limiter.StartEviction(ctx)

	store.StartSweeper(ctx, cfg.Store.SweepInterval,
		store.RegistryTarget(registry, cfg.Store.SessionTTL),
		store.SweepTarget{
			Name: "chat_requests",
			Sweep: func(ctx context.Context) (int64, error) {
				return tracker.Prune(ctx, cfg.Store.StatusTTL)
			},
		},
	)
	slog.Info("Sweeper started", "interval", cfg.Store.SweepInterval, "session_ttl", cfg.Store.SessionTTL)

	// Initialize handlers.
	healthHandler := api.NewHandler(registry, mgr)
	agentHandler := agent.NewHandler(svc, mgr, limiter)
	wsHandler := ws.NewHandler(ctx, mgr, svc, limiter, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(middleware.Metrics(collector))
	r.Use(identity.Middleware)

	healthHandler.RegisterRoutes(r)
	agentHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir))))
	r.Handle("/metrics", collector.Handler())

	// Embedded chat client.
	spa := web.SPAHandler("/app")
	r.Handle("/app", http.RedirectHandler("/app/", http.StatusMovedPermanently))
	r.Handle("/app/*", spa)

	// WriteTimeout stays 0 so long-lived WebSocket connections are not cut.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	var health *grpchealth.Server
	if cfg.GRPCHealthPort != "" {
		health = startGRPCHealth(ctx, cfg.GRPCHealthPort, registry.Ping)
	}

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

	if health != nil {
		health.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func openRegistry(cfg config.StoreConfig) (store.SessionRegistry, error) {
	if cfg.Backend == config.StoreSQLite {
		return store.NewSQLite(cfg.DBPath, cfg.SessionTTL)
	}
	return store.NewMemory(cfg.SessionTTL, cfg.MaxSessions), nil
}

// loadTemplates falls back to the built-in set when the configured file is absent.
func loadTemplates(ctx context.Context, path string, embedder llm.Embedder) (*templates.Index, error) {
	idx, err := templates.Load(ctx, path, embedder)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Templates file not found, using built-in templates", "path", path)
		return templates.Load(ctx, "", embedder)
	}
	return idx, err
}

// buildServices creates clients for every service with credentials. The
// returned func releases the browser runner, if any.
func buildServices(ctx context.Context, cfg *config.Config) (tools.Services, func()) {
	opts := []apiclient.Option{apiclient.WithTimeout(cfg.APITimeout)}
	var s tools.Services

	if cfg.CRM.APIKey != "" {
		s.CRM = crm.New(cfg.CRM, opts...)
	} else {
		slog.Info("CRM tools disabled (GHL_API_KEY not set)")
	}
	if cfg.HeyGen.Enabled() {
		s.HeyGen = heygen.New(cfg.HeyGen, opts...)
	}
	if cfg.Solar.Enabled() {
		s.Solar = solar.New(cfg.Solar, opts...)
	}
	if cfg.Search.Enabled() {
		s.Search = search.New(cfg.Search, opts...)
	}

	closeFn := func() {}
	var shots inspect.Screenshotter
	if cfg.Browser.Enabled {
		runner, err := container.NewBrowserRunner(cfg.Browser, cfg.StaticDir)
		if err != nil {
			slog.Warn("Screenshot capture disabled, Docker unavailable", "error", err)
		} else {
			shots = runner
			s.Screenshots = true
			closeFn = func() {
				if err := runner.Close(); err != nil {
					slog.Error("Failed to close docker client", "error", err)
				}
			}
			go func() {
				if err := runner.EnsureImage(ctx); err != nil {
					slog.Warn("Failed to prepare browser image", "image", cfg.Browser.Image, "error", err)
				}
			}()
		}
	}
	s.Inspect = inspect.New(cfg.StaticDir, shots)
	return s, closeFn
}

func startGRPCHealth(ctx context.Context, port string, check grpchealth.Check) *grpchealth.Server {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		slog.Error("Failed to listen for gRPC health", "port", port, "error", err)
		os.Exit(1)
	}
	health := grpchealth.New(check)
	health.Update(ctx)
	health.Watch(ctx, 10*time.Second)
	go func() {
		if err := health.Serve(lis); err != nil {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()
	return health
}
