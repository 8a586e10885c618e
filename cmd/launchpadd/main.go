package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"launchpad.org/internal/audit"
	"launchpad.org/internal/auth"
	"launchpad.org/internal/config"
	"launchpad.org/internal/events"
	"launchpad.org/internal/httpapi"
	"launchpad.org/internal/journal"
	"launchpad.org/internal/migrate"
	"launchpad.org/internal/obs"
	"launchpad.org/internal/platform"
	"launchpad.org/internal/store/pg"
	"launchpad.org/internal/stream"
	"launchpad.org/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("LAUNCHPAD_CONFIG"), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := obs.InitLogger(obs.LogConfig{
		Level:      cfg.Log.Level,
		Console:    cfg.Log.Console,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	log := obs.Logger()
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("launchpadd stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed := stream.New(0)
	emitters := []events.Emitter{audit.Sink{}, obs.EventMetrics{}, feed}

	var jr *journal.Journal
	if cfg.Journal.Path != "" {
		var err error
		jr, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer jr.Close()
		emitters = append(emitters, jr)
	}

	p, err := platform.New(ctx, cfg.Platform, platform.Options{Emitters: emitters, Logger: log})
	if err != nil {
		return fmt.Errorf("build platform: %w", err)
	}

	var store *pg.Store
	ready := httpapi.ReadyProbe{}
	if cfg.Postgres.DSN != "" {
		store, err = pg.Open(cfg.Postgres.DSN, pg.PoolConfig{MaxOpenConns: cfg.Postgres.MaxOpenConns})
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer store.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = store.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		if err := migrate.NewManager(store.DB(), migrations.SQL(), nil).Up(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		restored, err := p.LoadFrom(ctx, store)
		if err != nil {
			return fmt.Errorf("restore state: %w", err)
		}
		log.Info("state loaded", zap.Bool("restored", restored))
		ready.DB = store.DB()
	} else {
		log.Warn("postgres not configured, state is kept in memory only")
	}

	secret := []byte(cfg.Auth.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate auth secret: %w", err)
		}
		log.Warn("auth.secret not set, tokens will not survive a restart")
	}
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret:    secret,
		Issuer:    cfg.Auth.Issuer,
		TTL:       cfg.Auth.TTL,
		LoginSkew: cfg.Auth.LoginSkew,
		Owner:     p.Owner(),
	})
	if err != nil {
		return fmt.Errorf("auth issuer: %w", err)
	}

	api, err := httpapi.New(httpapi.Deps{
		Platform:   p,
		Issuer:     issuer,
		Stream:     feed,
		Journal:    jr,
		Ready:      ready,
		Version:    version,
		RateBurst:  cfg.RateLimit.Burst,
		RatePerSec: cfg.RateLimit.RPS,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("http api: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	health := httpapi.NewGRPCServer(ready, version)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	log.Info("starting launchpadd",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("http", srv.Addr),
		zap.String("grpc", cfg.GRPC.Addr),
		zap.String("owner", p.Owner().Hex()),
		zap.Int("instances", len(p.Instances())))

	var wg sync.WaitGroup
	errc := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := p.Oracle().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("oracle stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		health.Watch(ctx, 5*time.Second)
	}()
	if store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.RunCheckpoints(ctx, store, cfg.Postgres.SnapshotTick)
		}()
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errc:
		log.Error("server failed", zap.Error(runErr))
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	wg.Wait()
	return runErr
}
