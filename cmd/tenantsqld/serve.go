package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tenantsqld/tenantsqld/internal/config"
	"github.com/tenantsqld/tenantsqld/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP read/write adapter alongside the background workers",
	Long: `serve binds the JSON read/write/standby-read adapter and, under the
same errgroup, runs the demotion ticker, the replication fan-out
consumer, and the migration worker consumer — a single-process
deployment shape suitable for small fleets.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	server := &httpapi.Server{
		Primary:  a.primaryExecutor,
		Standby:  a.standbyExecutor,
		Pipeline: a.pipeline,
		Region:   a.cfg.AWSRegion,
		Logger:   a.log,
	}

	mux := http.NewServeMux()
	server.Routes(mux)

	httpSrv := &http.Server{
		Addr:    a.cfg.HTTPListenAddr,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http adapter listening", "addr", a.cfg.HTTPListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http adapter: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error { return runDemotionTicker(gctx, a) })
	g.Go(func() error { return runReplicationConsumer(gctx, a) })
	g.Go(func() error { return runMigrationConsumer(gctx, a) })

	if watcher, err := config.NewWatcher(a.cfg, a.log); err != nil {
		return fmt.Errorf("config watcher: %w", err)
	} else if watcher != nil {
		g.Go(func() error {
			watcher.Start(gctx)
			return nil
		})
	}

	return g.Wait()
}

func runDemotionTicker(ctx context.Context, a *app) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tieredMgr.RunDemotionSweep(ctx, a.replicas, time.Now().UTC(), a.cfg.ColdThreshold())
		}
	}
}
