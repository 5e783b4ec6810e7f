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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alecgard/taskmate/internal/api"
	"github.com/alecgard/taskmate/internal/auth"
	"github.com/alecgard/taskmate/internal/config"
	"github.com/alecgard/taskmate/internal/metrics"
	"github.com/alecgard/taskmate/internal/ratelimit"
	"github.com/alecgard/taskmate/internal/team"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Taskmate API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	m := metrics.New()
	if be.stat != nil {
		m.RegisterPoolCollector(be.stat)
	}

	resolver, err := auth.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Requests > 0 {
		limiter = ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	router := api.NewRouter(api.RouterDeps{
		Teams:          team.NewService(be.store, serviceOptions(cfg, m)),
		Resolver:       resolver,
		CookieName:     cfg.Auth.CookieName,
		Limiter:        limiter,
		Metrics:        m,
		Store:          be.pinger,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Addr(), "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ratelimit.RunPruner(gctx, limiter, cfg.RateLimit.Window)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
