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

package modules

import (
	"context"
	"log/slog"
	"time"

	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// EchoModule is the smoke-test module: it reflects input, fails on
// demand, and sleeps. Examples and tests lean on it.
type EchoModule struct {
	logger *slog.Logger
}

// NewEchoModule builds an echo module instance.
func NewEchoModule(_ map[string]interface{}, logger *slog.Logger) (workflow.Module, error) {
	return &EchoModule{logger: logger}, nil
}

// Invoke dispatches echo, fail, and sleep.
func (m *EchoModule) Invoke(ctx context.Context, method string, args map[string]interface{}) *workflow.Result {
	switch method {
	case "echo":
		return workflow.OK("echoed", map[string]interface{}{"value": args["value"]})
	case "fail":
		return workflow.Failf("%s", argString(args, "message", "echo module asked to fail"))
	case "sleep":
		d := time.Duration(argFloat(args, "seconds", 1) * float64(time.Second))
		select {
		case <-time.After(d):
			return workflow.OK("slept", map[string]interface{}{"seconds": d.Seconds()})
		case <-ctx.Done():
			return workflow.Timeoutf("sleep interrupted: %v", ctx.Err())
		}
	default:
		return workflow.Failf("echo module has no method %q", method)
	}
}
