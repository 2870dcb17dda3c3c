package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wellnest/internal/serverapp"
)

const sessionPurgeInterval = time.Hour

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags)
		},
	}
}

func runServe(ctx context.Context, flags *rootFlags) error {
	e, err := flags.load()
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()

	st, err := e.open(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()

	app, err := serverapp.New(serverapp.Options{Config: e.cfg, Store: st, Logger: e.logger})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              e.cfg.Server.Addr,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("env", e.cfg.Env),
			zap.String("driver", st.Driver()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout())
		defer cancel()
		e.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		t := time.NewTicker(sessionPurgeInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-t.C:
				n, err := app.Auth.PurgeExpiredSessions(gctx, now)
				if err != nil {
					e.logger.Warn("purge expired sessions", zap.Error(err))
					continue
				}
				if n > 0 {
					e.logger.Info("purged expired sessions", zap.Int64("count", n))
				}
			}
		}
	})
	return g.Wait()
}
