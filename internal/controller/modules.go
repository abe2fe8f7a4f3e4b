// Copyright 2024 Alexandre Mahdhaoui
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

package controller

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/canlink/internal/adapter"
	"github.com/alexandremahdhaoui/canlink/internal/metrics"
	"github.com/alexandremahdhaoui/canlink/internal/types"
)

// ModuleLoader loads kernel modules that are not loaded yet.
type ModuleLoader struct {
	log     logr.Logger
	modules adapter.ModuleManager
	rec     *metrics.Recorder
}

// NewModuleLoader returns a new ModuleLoader.
func NewModuleLoader(log logr.Logger, modules adapter.ModuleManager, rec *metrics.Recorder) *ModuleLoader {
	return &ModuleLoader{
		log:     log.WithName("module-loader"),
		modules: modules,
		rec:     rec,
	}
}

// EnsureLoaded loads, in order, every module of names not loaded yet and returns the ones it
// loaded. Failures are logged and tolerated: a module built into the kernel cannot be loaded
// but is usable.
func (l *ModuleLoader) EnsureLoaded(ctx context.Context, names types.ModuleSet) []string {
	loaded, err := l.modules.Loaded(ctx)
	if err != nil {
		l.log.V(1).Info("cannot list kernel modules, loading all", "err", err.Error())
		loaded = types.ModuleSet{}
	}

	out := make([]string, 0)
	for _, name := range names {
		if loaded.Contains(name) {
			l.rec.Step("module-loader", metrics.OutcomeSkipped)
			continue
		}

		if err := l.modules.Load(ctx, name); err != nil {
			l.log.Info("cannot load kernel module, continuing", "module", name, "err", err.Error())
			l.rec.Step("module-loader", metrics.OutcomeTolerated)
			continue
		}

		l.log.V(1).Info("loaded kernel module", "module", name)
		l.rec.Step("module-loader", metrics.OutcomeOK)
		out = append(out, name)
	}

	return out
}
