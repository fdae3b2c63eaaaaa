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
	"log/slog"

	"github.com/yuribernstein/seyoawe-community/pkg/module"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// platformBuilders collects builders that only compile on some platforms
// (the command module registers itself here from a tagged file).
var platformBuilders = map[string]module.Builder{}

// Deps carries the shared collaborators builtin modules need.
type Deps struct {
	// Delegator backs the delegate module. Optional; without it the
	// delegate module fails at invocation, not registration.
	Delegator workflow.Delegator
}

// RegisterBuiltins registers every builtin builder on the registry.
// Manifests under modules_dir bind to them during Discover.
func RegisterBuiltins(reg *module.Registry, deps Deps) {
	reg.RegisterBuilder("api", NewAPIModule)
	reg.RegisterBuilder("chatbot", NewChatbotModule)
	reg.RegisterBuilder("echo", NewEchoModule)
	reg.RegisterBuilder("email", NewEmailModule)
	reg.RegisterBuilder("git", NewGitModule)
	reg.RegisterBuilder("slack", NewSlackModule)
	reg.RegisterBuilder("webform", NewWebformModule)
	reg.RegisterBuilder("delegate", func(config map[string]interface{}, logger *slog.Logger) (workflow.Module, error) {
		return NewDelegateModule(config, deps.Delegator, logger)
	})
	for name, builder := range platformBuilders {
		reg.RegisterBuilder(name, builder)
	}
}
