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

package module

import (
	"context"
	"log/slog"
	"strings"

	"github.com/yuribernstein/seyoawe-community/internal/log"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// dispatcher wraps a module implementation behind its manifest. Method
// names and required arguments are checked against the manifest before
// the implementation runs; violations and panics surface as fail results,
// never as crashes of the engine goroutine.
type dispatcher struct {
	manifest *Manifest
	impl     workflow.Module
	logger   *slog.Logger
}

// NewDispatcher wraps impl with manifest enforcement.
func NewDispatcher(manifest *Manifest, impl workflow.Module, logger *slog.Logger) workflow.Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &dispatcher{manifest: manifest, impl: impl, logger: logger}
}

// Invoke enforces the manifest contract and delegates to the wrapped
// implementation.
func (d *dispatcher) Invoke(ctx context.Context, method string, args map[string]interface{}) (res *workflow.Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("module panicked",
				log.ModuleKey, d.manifest.Ref(),
				"method", method,
				"panic", r,
			)
			res = workflow.Failf("module %s panicked in %s: %v", d.manifest.Ref(), method, r)
		}
	}()

	decl, ok := d.manifest.Method(method)
	if !ok {
		return workflow.Failf("module %s has no method %q (available: %s)",
			d.manifest.Ref(), method, strings.Join(d.manifest.MethodNames(), ", "))
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	var missing []string
	for _, arg := range decl.Arguments {
		if _, present := args[arg.Name]; present {
			continue
		}
		if arg.Required {
			missing = append(missing, arg.Name)
			continue
		}
		if arg.Default != nil {
			args[arg.Name] = arg.Default
		}
	}
	if len(missing) > 0 {
		return workflow.Failf("method %s.%s is missing required arguments: %s",
			d.manifest.Ref(), method, strings.Join(missing, ", "))
	}

	return workflow.Normalize(d.impl.Invoke(ctx, method, args))
}

// Dispose forwards disposal to the implementation when it supports it.
func (d *dispatcher) Dispose() {
	if disposer, ok := d.impl.(Disposer); ok {
		disposer.Dispose()
	}
}
