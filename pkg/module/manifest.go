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

// Package module implements the manifest-driven module registry and the
// per-run instance pools the engine draws from. The manifest, not the Go
// type, is the authority on which methods and arguments a module accepts;
// the dispatcher enforces it before any implementation code runs.
package module

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/yuribernstein/seyoawe-community/pkg/errors"
)

// Manifest declares a module's identity, its invocable methods, and the
// default configuration merged under every instance declaration.
type Manifest struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Class       string `yaml:"class" json:"class" validate:"required"`
	Version     string `yaml:"version" json:"version"`
	Author      string `yaml:"author,omitempty" json:"author,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Defaults is the base configuration an instance's config block is
	// merged over.
	Defaults map[string]interface{} `yaml:"config_defaults,omitempty" json:"config_defaults,omitempty"`

	Methods []Method `yaml:"methods" json:"methods" validate:"required,min=1,dive"`
}

// Method declares one invocable method.
type Method struct {
	Name        string     `yaml:"name" json:"name" validate:"required"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Arguments   []Argument `yaml:"arguments,omitempty" json:"arguments,omitempty" validate:"dive"`
	Returns     string     `yaml:"returns,omitempty" json:"returns,omitempty"`
}

// Argument declares one method argument.
type Argument struct {
	Name        string      `yaml:"name" json:"name" validate:"required"`
	Type        string      `yaml:"type,omitempty" json:"type,omitempty" validate:"omitempty,oneof=string number boolean object array"`
	Required    bool        `yaml:"required,omitempty" json:"required,omitempty"`
	Default     interface{} `yaml:"default,omitempty" json:"default,omitempty"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
}

var manifestValidator = validator.New()

// Ref returns the "<name>.<class>" reference workflow documents use.
func (m *Manifest) Ref() string {
	return m.Name + "." + m.Class
}

// Method returns the declared method by name.
func (m *Manifest) Method(name string) (*Method, bool) {
	for i := range m.Methods {
		if m.Methods[i].Name == name {
			return &m.Methods[i], true
		}
	}
	return nil, false
}

// MethodNames lists the declared method names in manifest order.
func (m *Manifest) MethodNames() []string {
	names := make([]string, len(m.Methods))
	for i := range m.Methods {
		names[i] = m.Methods[i].Name
	}
	return names
}

// Validate checks the manifest's structural constraints.
func (m *Manifest) Validate() error {
	if err := manifestValidator.Struct(m); err != nil {
		return &errors.ValidationError{
			Field:   "manifest",
			Message: fmt.Sprintf("manifest %s.%s is invalid: %v", m.Name, m.Class, err),
		}
	}
	seen := make(map[string]bool, len(m.Methods))
	for _, method := range m.Methods {
		if seen[method.Name] {
			return &errors.ValidationError{
				Field:   "manifest.methods",
				Message: fmt.Sprintf("duplicate method %q in module %s", method.Name, m.Name),
			}
		}
		seen[method.Name] = true
	}
	return nil
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &errors.ValidationError{
			Field:   "manifest",
			Message: fmt.Sprintf("cannot parse manifest: %v", err),
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads a manifest file from disk.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading manifest %s", path)
	}
	return ParseManifest(data)
}
