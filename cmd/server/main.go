// Rolecall - roleplay session coordinator for group chats.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/rolecall/internal/api"
	"github.com/ashureev/rolecall/internal/catalog"
	"github.com/ashureev/rolecall/internal/config"
	"github.com/ashureev/rolecall/internal/dispatch"
	"github.com/ashureev/rolecall/internal/health"
	"github.com/ashureev/rolecall/internal/identity"
	"github.com/ashureev/rolecall/internal/roleplay"
	"github.com/ashureev/rolecall/internal/scene"
	"github.com/ashureev/rolecall/internal/store"
	"github.com/ashureev/rolecall/internal/transport"
	"github.com/ashureev/rolecall/web"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
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
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "store", cfg.StoreBackend)

	repo, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Store connected", "backend", cfg.StoreBackend)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	slog.Info("Catalog loaded",
		"characters", len(cat.Characters),
		"modes", len(cat.Modes),
		"achievements", len(cat.Achievements))

	manager := roleplay.NewManager(repo, scene.NewGenerator(cat.SceneTemplates, nil), cat.Achievements, roleplay.Options{
		MinPlayers: cfg.MinPlayers,
		Logger:     logger,
	})
	timer := roleplay.NewJoinTimer(logger)
	defer timer.Stop()

	hub := transport.NewHub(logger)
	defer hub.CloseAll()

	dispatcher := dispatch.New(manager, repo, cat, hub, timer, dispatch.Options{
		AdminID:    cfg.AdminID,
		JoinWindow: cfg.JoinWindow,
		Logger:     logger,
	})

	baseHandler := api.NewHandler(repo, manager, cat, dispatcher)
	router := api.NewRouter(api.NewRoleplayHandler(baseHandler), api.NewHealthHandler(repo, 0), api.RouterConfig{
		APIToken:      cfg.APIToken,
		AllowedOrigin: cfg.AllowedOrigin,
		WebSocket:     transport.NewWebSocketHandler(hub, dispatcher, cfg.AllowedOrigin),
		Identity:      identity.Middleware(repo),
		Static:        web.SPAHandler(),
	})
	if cfg.APIToken == "" {
		slog.Warn("API_TOKEN not set, event intake and websocket chats are disabled")
	}

	// WriteTimeout stays 0 so websocket connections are not cut.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	monitor := health.NewMonitor(repo, logger)
	grpcServer := grpc.NewServer()
	monitor.Register(grpcServer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		monitor.Run(gctx, cfg.HealthInterval)
		return nil
	})

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		slog.Info("gRPC health listening", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		// Pending join windows must not fire against a closing store.
		timer.Stop()
		monitor.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		hub.CloseAll()
		httpErr := srv.Shutdown(shutdownCtx)

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			slog.Warn("gRPC server forced to stop")
			grpcServer.Stop()
		}

		if httpErr != nil {
			return fmt.Errorf("shutdown http server: %w", httpErr)
		}
		return nil
	})

	return g.Wait()
}
