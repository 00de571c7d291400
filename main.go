package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/bgswap/cache"
	"github.com/chaos-io/bgswap/config"
	"github.com/chaos-io/bgswap/metrics"
	"github.com/chaos-io/bgswap/pipeline"
	"github.com/chaos-io/bgswap/pool"
	"github.com/chaos-io/bgswap/rembg"
	"github.com/chaos-io/bgswap/server"
	"github.com/chaos-io/bgswap/util"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "bgswap",
		Short:         "Remove image backgrounds and composite new ones over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			logger, err := util.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("bgswap exited", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml)")
	if err := config.RegisterFlags(cmd, v); err != nil {
		panic(err)
	}
	return cmd
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	m, err := metrics.New(metrics.DefaultNamespace)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	remover := newRemover(cfg.Remover)
	workers := pool.New(cfg.Workers, remover.Remove,
		pool.WithLogger(logger),
		pool.WithObserver(m),
	)
	workers.Start()

	results, err := cache.NewLRU(cache.Options{
		Size:     cfg.Cache.Size,
		TTL:      cfg.Cache.TTL,
		Observer: m,
	})
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	sweeper, err := cache.NewSweeper(results, cfg.Cache.Sweep, logger.With("component", "cache"))
	if err != nil {
		return err
	}

	svc, err := pipeline.New(pipeline.Options{
		Cache:          results,
		Pool:           workers,
		JPEGQuality:    cfg.JPEGQuality,
		RemovalTimeout: cfg.RemovalTimeout,
		Coalesce:       cfg.Coalesce,
		MaxPixels:      cfg.MaxPixels,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Addr:            cfg.Addr,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		ShutdownTimeout: cfg.ShutdownTimeout,
		CORS:            cfg.CORS,
		Debug:           cfg.Debug,
		Pipeline:        svc,
		Metrics:         m,
		Logger:          logger,
		Health: func() server.Health {
			st := workers.Stats()
			return server.Health{
				Workers:      st.Workers,
				Queued:       st.Queued,
				Busy:         st.Busy,
				CacheEntries: results.Len(),
			}
		},
	})
	if err != nil {
		return err
	}

	logger.Info("starting bgswap",
		"addr", cfg.Addr,
		"workers", cfg.Workers,
		"remover", cfg.Remover.Kind,
		"cache_size", cfg.Cache.Size,
		"cache_ttl", cfg.Cache.TTL,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		sweeper.Start()
		<-gctx.Done()
		<-sweeper.Stop().Done()
		return nil
	})
	err = g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if perr := workers.Stop(stopCtx); perr != nil {
		logger.Warn("worker pool did not drain", "error", perr)
	}
	logger.Info("bgswap stopped")
	return err
}

func newRemover(cfg config.RemoverConfig) rembg.Remover {
	if cfg.Kind == config.RemoverBorderKey {
		return rembg.NewBorderKey(cfg.Tolerance)
	}
	return rembg.NewRemote(cfg.URL,
		rembg.WithModel(cfg.Model),
		rembg.WithRequestTimeout(cfg.Timeout),
	)
}
