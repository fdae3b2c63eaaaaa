// Copyright 2025 The SEYOAWE Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yuribernstein/seyoawe-community/internal/config"
	"github.com/yuribernstein/seyoawe-community/internal/log"
	"github.com/yuribernstein/seyoawe-community/internal/modules"
	"github.com/yuribernstein/seyoawe-community/internal/server"
	"github.com/yuribernstein/seyoawe-community/internal/tracing"
	"github.com/yuribernstein/seyoawe-community/pkg/approval"
	"github.com/yuribernstein/seyoawe-community/pkg/delegate"
	"github.com/yuribernstein/seyoawe-community/pkg/module"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return serve(configPath)
		},
	}
}

func serve(configPath string) error {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	shutdownTracing, err := tracing.Setup("sawed", version)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	approvals := approval.NewManager(
		approval.WithBaseURL(cfg.ExternalBaseURL),
		approval.WithLogger(log.WithComponent(logger, "approval")),
	)
	approvals.Start(ctx, cfg.SweepInterval())

	registry := module.NewRegistry(log.WithComponent(logger, "registry"))
	factory := module.NewPoolFactory(registry, logger)
	delegator := delegate.New(factory, approvals,
		delegate.WithScratchDir(cfg.ReposBasePath),
		delegate.WithLogger(log.WithComponent(logger, "delegate")),
		delegate.WithEnv(cfg.Env),
	)
	modules.RegisterBuiltins(registry, modules.Deps{Delegator: delegator})

	bound, err := registry.Discover(cfg.ModulesDir)
	if err != nil {
		return err
	}
	logger.Info("modules discovered", "count", bound, "dir", cfg.ModulesDir)

	runner := server.NewRunner(ctx, factory, approvals, delegator, cfg.Env, logger)
	handler := server.New(runner, approvals, log.WithComponent(logger, "http"))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("daemon listening", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	runner.Wait()
	return shutdownTracing(shutdownCtx)
}
