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
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/yuribernstein/seyoawe-community/pkg/errors"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// manifestFile is the per-module manifest filename Discover looks for.
const manifestFile = "module.yaml"

// Builder constructs a module instance from its merged configuration.
type Builder func(config map[string]interface{}, logger *slog.Logger) (workflow.Module, error)

// Entry pairs a manifest with the builder that implements it.
type Entry struct {
	Manifest *Manifest
	builder  Builder
}

// Registry maps "<name>.<class>" references to registered modules.
// Builders are registered in code; manifests arrive either in code (for
// builtins with embedded manifests) or via Discover over a modules
// directory.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
	entries  map[string]*Entry
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		builders: make(map[string]Builder),
		entries:  make(map[string]*Entry),
		logger:   logger,
	}
}

// RegisterBuilder makes a builder available under a module name. The
// module stays invisible to Lookup until a manifest binds to it.
func (r *Registry) RegisterBuilder(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

// Register binds a manifest to a builder and makes the module invocable.
func (r *Registry) Register(m *Manifest, b Builder) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[m.Ref()] = &Entry{Manifest: m, builder: b}
	return nil
}

// Discover walks a modules directory, loading every <module>/module.yaml
// and binding it to the builder registered under the manifest's name.
// Manifests without a builder are logged and skipped, not fatal: a
// modules directory may carry definitions for deployments with a
// different builtin set. Returns the number of modules bound.
func (r *Registry) Discover(dir string) (int, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return 0, errors.Wrapf(err, "reading modules directory %s", dir)
	}

	bound := 0
	for _, ent := range dirents {
		if !ent.IsDir() {
			continue
		}
		path := filepath.Join(dir, ent.Name(), manifestFile)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		manifest, err := LoadManifest(path)
		if err != nil {
			return bound, err
		}

		r.mu.Lock()
		builder, ok := r.builders[manifest.Name]
		if !ok {
			r.mu.Unlock()
			r.logger.Warn("manifest has no registered builder",
				"module", manifest.Name,
				"path", path,
			)
			continue
		}
		r.entries[manifest.Ref()] = &Entry{Manifest: manifest, builder: builder}
		r.mu.Unlock()

		r.logger.Info("module registered",
			"module", manifest.Ref(),
			"version", manifest.Version,
			"methods", len(manifest.Methods),
		)
		bound++
	}
	return bound, nil
}

// Lookup resolves a "<name>.<class>" reference.
func (r *Registry) Lookup(ref string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ent, ok := r.entries[ref]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "module", ID: ref}
	}
	return ent, nil
}

// Refs lists registered module references, sorted.
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.entries))
	for ref := range r.entries {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
