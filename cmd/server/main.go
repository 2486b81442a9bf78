package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pantry/internal/assistant"
	"pantry/internal/chat"
	"pantry/internal/config"
	"pantry/internal/db"
	"pantry/internal/events"
	"pantry/internal/inventory"
	"pantry/internal/logging"
	"pantry/internal/metrics"
	myMiddleware "pantry/internal/middleware"
	"pantry/internal/user"
)

// Delay between streamed words of the built-in assistant.
const streamPace = 25 * time.Millisecond

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pantry: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config & logging
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database
	database, err := db.NewDatabase(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer database.Close()
	log.Info("connected to postgres")

	if err := database.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// 3. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 4. Event bus and inventory
	bus := events.NewBus(log, m)
	invRepo := inventory.NewRepository(database.Conn)
	invService := inventory.NewService(invRepo, bus, log, m)
	invHandler := inventory.NewHandler(invService, inventory.NewIdempotency(invRepo, log), log)

	// 5. Users
	userService := user.NewService(user.NewRepository(database.Conn), cfg.JWTSecret, cfg.TokenTTL)
	userHandler := user.NewHandler(userService, log)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 6. Chat: registry, optional redis fan-out, orchestrator
	hub := chat.NewHub(log, m)
	var broadcaster chat.Broadcaster = hub
	var redisHub *chat.RedisHub
	if cfg.Distributed() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		redisHub = chat.NewRedisHub(hub, rdb, log)
		broadcaster = redisHub
	}

	homes := chat.NewHomeContextCache(invService, cfg.Chat.HomeContextTTL)
	homes.Subscribe(bus)

	chatRepo := chat.NewRepository(database.Conn)
	orchestrator := chat.NewOrchestrator(
		chatRepo,
		assistant.NewAgent(invService, log, streamPace),
		assistant.NewClassifier(),
		homes,
		broadcaster,
		log, m,
		chat.OrchestratorConfig{HistoryLimit: cfg.Chat.HistoryLimit, TurnTimeout: cfg.Chat.TurnTimeout},
	)
	chatHandler := chat.NewHandler(hub, broadcaster, orchestrator, chatRepo, log, m, cfg.Chat.RateLimit)
	chatHandler.SubscribeEvents(bus)

	// 7. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(myMiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Conn.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Protected routes (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/ws", chatHandler.ServeWs)
		r.Route("/api", func(r chi.Router) {
			r.Get("/household", userHandler.Household)
			chatHandler.Routes(r)
			invHandler.Routes(r)
		})
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 8. Run until a signal arrives
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", zap.String("addr", cfg.Addr), zap.Bool("redis", cfg.Distributed()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if redisHub != nil {
		g.Go(func() error { return redisHub.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
