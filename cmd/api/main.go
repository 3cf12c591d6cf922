package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mauroas7/Tardia-Plataforma/internal/app/migrate"
	"github.com/mauroas7/Tardia-Plataforma/internal/cluster"
	"github.com/mauroas7/Tardia-Plataforma/internal/docker"
	"github.com/mauroas7/Tardia-Plataforma/internal/feature"
	"github.com/mauroas7/Tardia-Plataforma/internal/generator"
	httpx "github.com/mauroas7/Tardia-Plataforma/internal/http"
	"github.com/mauroas7/Tardia-Plataforma/internal/repository/postgres"
	"github.com/mauroas7/Tardia-Plataforma/internal/service/auth"
	"github.com/mauroas7/Tardia-Plataforma/internal/service/bot"
	"github.com/mauroas7/Tardia-Plataforma/internal/service/provision"
	"github.com/mauroas7/Tardia-Plataforma/internal/ws"
	"github.com/mauroas7/Tardia-Plataforma/pkg/config"
	"github.com/mauroas7/Tardia-Plataforma/pkg/logger"
)

func main() {
	cfg := config.LoadPlatformConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to connect to docker daemon", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()

	deployer, err := cluster.New(cfg.Namespace, cfg.SecretName, cfg.BotPort, cfg.ReadinessTimeout, log)
	if err != nil {
		log.Error("failed to configure cluster deployer", "error", err)
		os.Exit(1)
	}

	var featureNames []string
	for _, f := range feature.All() {
		featureNames = append(featureNames, f.Name)
	}
	secrets := config.FeatureSecrets(feature.RequiredSecrets(featureNames))

	gen, err := generator.New(cfg.TemplatesDir, cfg.WorkspaceRoot, secrets)
	if err != nil {
		log.Error("failed to configure bot generator", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub(log)
	orchestrator := provision.New(repo, gen, dockerClient, deployer, hub, log, cfg)

	authSvc := auth.New(repo, log, cfg)
	botSvc := bot.New(repo, orchestrator, log, cfg)

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter()
	}

	router := httpx.NewRouter(log, authSvc, botSvc, hub, limiter, pool.Ping, dockerClient.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelDrain()
		if err := orchestrator.Drain(drainCtx); err != nil {
			log.Warn("provisioning runs still in flight at shutdown", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
