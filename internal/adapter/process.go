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
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/alexandremahdhaoui/canlink/internal/types"
)

var (
	ErrListProcesses = errors.New("failed to list processes")
	ErrSignalProcess = errors.New("failed to signal process")
)

// ProcessTable queries and signals live CAN tool processes.
type ProcessTable interface {
	// List returns every live process whose executable is a known CAN tool.
	List(ctx context.Context) ([]types.ManagedProcess, error)
	// Signal sends SIGTERM, or SIGKILL when force is true. A vanished process yields
	// ErrResourceAbsent.
	Signal(ctx context.Context, pid int32, force bool) error
	Alive(ctx context.Context, pid int32) bool
}

// NewProcessTable returns a ProcessTable backed by /proc.
func NewProcessTable() ProcessTable {
	return procTable{}
}

type procTable struct{}

func (procTable) List(ctx context.Context) ([]types.ManagedProcess, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListProcesses, err)
	}

	out := make([]types.ManagedProcess, 0)
	for _, p := range procs {
		// processes may exit between the listing and the reads below.
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}

		args, _ := p.CmdlineSliceWithContext(ctx)
		if mp, ok := ManagedProcessFrom(p.Pid, name, args); ok {
			out = append(out, mp)
		}
	}

	return out, nil
}

func (procTable) Signal(ctx context.Context, pid int32, force bool) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return fmt.Errorf("%w: pid %d", types.ErrResourceAbsent, pid)
		}
		return fmt.Errorf("%w: pid %d: %w", ErrSignalProcess, pid, err)
	}

	if force {
		err = p.KillWithContext(ctx)
	} else {
		err = p.TerminateWithContext(ctx)
	}

	if err != nil {
		return fmt.Errorf("%w: pid %d: %w", ErrSignalProcess, pid, translateLinkErr(err))
	}

	return nil
}

func (procTable) Alive(ctx context.Context, pid int32) bool {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return false
	}

	running, err := p.IsRunningWithContext(ctx)
	if err != nil || !running {
		return false
	}

	// a reaped-but-unwaited daemon still shows up as a zombie.
	status, err := p.StatusWithContext(ctx)
	if err == nil && len(status) > 0 && status[0] == process.Zombie {
		return false
	}

	return true
}

// ManagedProcessFrom builds a ManagedProcess out of a process name and command line. The
// executable basename of args[0] is preferred over name since the kernel truncates comm.
func ManagedProcessFrom(pid int32, name string, args []string) (types.ManagedProcess, bool) {
	if len(args) > 0 {
		if kind, ok := types.ProcessKindFromBinary(filepath.Base(args[0])); ok {
			return types.ManagedProcess{Kind: kind, PID: pid, Args: args}, true
		}
	}

	kind, ok := types.ProcessKindFromBinary(name)
	if !ok {
		return types.ManagedProcess{}, false
	}

	return types.ManagedProcess{Kind: kind, PID: pid, Args: args}, true
}
