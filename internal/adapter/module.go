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

package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alexandremahdhaoui/canlink/internal/types"
	"github.com/alexandremahdhaoui/canlink/pkg/execcontext"
)

const DefaultProcModulesPath = "/proc/modules"

var (
	ErrReadModules  = errors.New("failed to read loaded kernel modules")
	ErrLoadModule   = errors.New("failed to load kernel module")
	ErrUnloadModule = errors.New("failed to unload kernel module")
)

// ModuleManager loads and unloads kernel modules.
type ModuleManager interface {
	Loaded(ctx context.Context) (types.ModuleSet, error)
	Load(ctx context.Context, module string) error
	// Unload returns ErrResourceBusy when the module is in use and ErrResourceAbsent when
	// it is not loaded.
	Unload(ctx context.Context, module string) error
}

// NewModuleManager returns a ModuleManager backed by procModulesPath and modprobe.
func NewModuleManager(runner execcontext.Runner, procModulesPath string) ModuleManager {
	if procModulesPath == "" {
		procModulesPath = DefaultProcModulesPath
	}

	return &modprobeManager{runner: runner, procModulesPath: procModulesPath}
}

type modprobeManager struct {
	runner          execcontext.Runner
	procModulesPath string
}

func (m *modprobeManager) Loaded(_ context.Context) (types.ModuleSet, error) {
	f, err := os.Open(m.procModulesPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadModules, err)
	}
	defer f.Close()

	return ParseProcModules(f)
}

func (m *modprobeManager) Load(ctx context.Context, module string) error {
	if output, err := m.runner.Run(ctx, "modprobe", module); err != nil {
		if isModuleNotFound(string(output)) {
			return fmt.Errorf("%w: %s: %w", ErrLoadModule, module, types.ErrResourceAbsent)
		}
		return fmt.Errorf("%w: %s: %w", ErrLoadModule, module, err)
	}

	return nil
}

func (m *modprobeManager) Unload(ctx context.Context, module string) error {
	output, err := m.runner.Run(ctx, "modprobe", "-r", module)
	if err == nil {
		return nil
	}

	out := strings.ToLower(string(output))
	switch {
	case strings.Contains(out, "in use"), strings.Contains(out, "busy"):
		return fmt.Errorf("%w: %s: %w", ErrUnloadModule, module, types.ErrResourceBusy)
	case strings.Contains(out, "not currently loaded"), isModuleNotFound(out):
		return fmt.Errorf("%w: %s: %w", ErrUnloadModule, module, types.ErrResourceAbsent)
	default:
		return fmt.Errorf("%w: %s: %w", ErrUnloadModule, module, err)
	}
}

// ParseProcModules reads the module names out of a /proc/modules formatted stream.
func ParseProcModules(r io.Reader) (types.ModuleSet, error) {
	out := make(types.ModuleSet, 0)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		out = append(out, fields[0])
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadModules, err)
	}

	return out, nil
}

func isModuleNotFound(output string) bool {
	return strings.Contains(strings.ToLower(output), "not found")
}
