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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yuribernstein/seyoawe-community/internal/config"
	"github.com/yuribernstein/seyoawe-community/internal/log"
	"github.com/yuribernstein/seyoawe-community/internal/modules"
	"github.com/yuribernstein/seyoawe-community/pkg/approval"
	"github.com/yuribernstein/seyoawe-community/pkg/delegate"
	"github.com/yuribernstein/seyoawe-community/pkg/module"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

func newRunCommand() *cobra.Command {
	var payloadJSON string

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Run one workflow document to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return runOnce(configPath, args[0], payloadJSON)
		},
	}
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "trigger payload as inline JSON")
	return cmd
}

func runOnce(configPath, docPath, payloadJSON string) error {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(docPath)
	if err != nil {
		return err
	}
	doc, err := workflow.Parse(raw)
	if err != nil {
		return err
	}

	var payload map[string]interface{}
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	approvals := approval.NewManager(approval.WithBaseURL(cfg.ExternalBaseURL))
	approvals.Start(ctx, cfg.SweepInterval())

	registry := module.NewRegistry(logger)
	factory := module.NewPoolFactory(registry, logger)
	delegator := delegate.New(factory, approvals,
		delegate.WithScratchDir(cfg.ReposBasePath),
		delegate.WithEnv(cfg.Env),
	)
	modules.RegisterBuiltins(registry, modules.Deps{Delegator: delegator})
	if _, err := registry.Discover(cfg.ModulesDir); err != nil {
		return err
	}

	engine := workflow.NewEngine(doc,
		workflow.WithLogger(logger),
		workflow.WithFactory(factory),
		workflow.WithApprovals(approvals),
		workflow.WithDelegator(delegator),
		workflow.WithEnv(cfg.Env),
		workflow.WithPayload(payload),
	)

	outcome, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if outcome.Status != workflow.RunSucceeded {
		return fmt.Errorf("workflow %s %s", doc.Workflow.Name, outcome.Status)
	}
	return nil
}
