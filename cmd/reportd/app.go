package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/PratikDhanave/user-report-service/internal/config"
	"github.com/PratikDhanave/user-report-service/internal/store"
	"github.com/PratikDhanave/user-report-service/internal/tasks"
	"github.com/PratikDhanave/user-report-service/internal/userreports"
)

// app holds the wired dependencies shared by the subcommands.
type app struct {
	cfg        config.Config
	logger     *zap.Logger
	store      store.Store
	registry   *tasks.Registry
	broker     *tasks.MemoryBroker
	client     *tasks.Client
	reconciler *userreports.Reconciler
	service    *userreports.Service
}

// newApp boots config -> logger -> DB -> schema -> task registry.
func newApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.DBURL)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		registry: tasks.NewRegistry(),
		broker:   tasks.NewMemoryBroker(),
	}
	a.client = tasks.NewClient(a.registry, a.broker)
	a.reconciler = userreports.NewReconciler(st, st, logger.Named("reconciler"))
	a.service = userreports.NewService(st, a.reconciler, a.client, logger.Named("userreports"))

	if err := a.registry.Register(cfg.ApplyTask(userreports.UpdateUserReportTask(a.reconciler, st))); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	_ = a.broker.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return logConfig.Build()
}
