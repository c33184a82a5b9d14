package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PratikDhanave/user-report-service/internal/httpserver"
	"github.com/PratikDhanave/user-report-service/internal/tasks"
)

type serveOptions struct {
	addr     string
	noWorker bool
}

// NewServeCommand runs the HTTP API and the task worker in one process.
func NewServeCommand(root *RootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the task worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServe(cmd.Context(), a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	cmd.Flags().BoolVar(&opts.noWorker, "no-worker", false, "do not run the task worker")

	return cmd
}

func runServe(ctx context.Context, a *app, opts *serveOptions) error {
	addr := a.cfg.HTTPAddr
	if opts.addr != "" {
		addr = opts.addr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           httpserver.NewRouter(a.cfg, a.store, a.service, a.logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if !opts.noWorker {
		worker := tasks.NewWorker(a.registry, a.broker, a.logger.Named("worker"),
			tasks.WithQueues(a.cfg.WorkerQueues...),
			tasks.WithConcurrency(a.cfg.WorkerConcurrency),
		)
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	return g.Wait()
}
