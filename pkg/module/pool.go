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

	"dario.cat/mergo"

	"github.com/yuribernstein/seyoawe-community/internal/log"
	"github.com/yuribernstein/seyoawe-community/pkg/errors"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// Disposer is implemented by modules that hold releasable resources.
type Disposer interface {
	Dispose()
}

// PoolFactory builds per-run module pools from a registry. It implements
// workflow.ModuleFactory.
type PoolFactory struct {
	registry *Registry
	logger   *slog.Logger
}

// NewPoolFactory creates a factory over a registry.
func NewPoolFactory(registry *Registry, logger *slog.Logger) *PoolFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolFactory{registry: registry, logger: logger}
}

// Instantiate builds every declared instance up front. Any failure
// disposes the partial pool and aborts, so a run never starts with a
// half-built module set.
func (f *PoolFactory) Instantiate(_ context.Context, decls map[string]workflow.ModuleDecl) (workflow.ModulePool, error) {
	p := &pool{instances: make(map[string]workflow.Module, len(decls)), logger: f.logger}
	for id, decl := range decls {
		ent, err := f.registry.Lookup(decl.Module)
		if err != nil {
			p.Dispose()
			return nil, errors.Wrapf(err, "instance %q", id)
		}

		config, err := mergeConfig(ent.Manifest.Defaults, decl.Config)
		if err != nil {
			p.Dispose()
			return nil, errors.Wrapf(err, "merging config for instance %q", id)
		}

		impl, err := ent.builder(config, f.logger.With(log.ModuleKey, decl.Module))
		if err != nil {
			p.Dispose()
			return nil, errors.Wrapf(err, "instantiating %s as %q", decl.Module, id)
		}
		p.instances[id] = NewDispatcher(ent.Manifest, impl, f.logger)

		f.logger.Debug("module instantiated", "instance", id, log.ModuleKey, decl.Module)
	}
	return p, nil
}

// mergeConfig overlays the instance config on the manifest defaults
// without mutating either input.
func mergeConfig(defaults, config map[string]interface{}) (map[string]interface{}, error) {
	merged := make(map[string]interface{}, len(defaults)+len(config))
	if err := mergo.Merge(&merged, defaults, mergo.WithOverride); err != nil {
		return nil, err
	}
	if err := mergo.Merge(&merged, config, mergo.WithOverride); err != nil {
		return nil, err
	}
	return merged, nil
}

// pool holds one run's instances. Implements workflow.ModulePool.
type pool struct {
	instances map[string]workflow.Module
	logger    *slog.Logger
}

// Get returns the instance declared under id.
func (p *pool) Get(id string) (workflow.Module, error) {
	mod, ok := p.instances[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "module instance", ID: id}
	}
	return mod, nil
}

// Dispose releases every instance that supports disposal.
func (p *pool) Dispose() {
	for id, mod := range p.instances {
		if disposer, ok := mod.(Disposer); ok {
			disposer.Dispose()
			p.logger.Debug("module disposed", "instance", id)
		}
	}
}
