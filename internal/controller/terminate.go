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
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/canlink/internal/adapter"
	"github.com/alexandremahdhaoui/canlink/internal/types"
)

// DefaultGracePeriod is the wait between SIGTERM and SIGKILL.
const DefaultGracePeriod = 2 * time.Second

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration)

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// terminator stops processes gracefully, then forcefully.
type terminator struct {
	log   logr.Logger
	procs adapter.ProcessTable
	grace time.Duration
	sleep SleepFunc
}

// terminate returns the processes that are gone and the ones that survived both signals.
// Processes already gone count as terminated.
func (t terminator) terminate(ctx context.Context, targets []types.ManagedProcess) ([]types.ManagedProcess, []types.ManagedProcess) {
	if len(targets) == 0 {
		return nil, nil
	}

	remaining := targets
	signalAll := func(force bool) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			for _, p := range remaining {
				if err := t.procs.Signal(ctx, p.PID, force); err != nil && !errors.Is(err, types.ErrResourceAbsent) {
					t.log.V(1).Info("cannot signal process", "pid", p.PID, "kind", p.Kind.String(), "force", force, "err", err.Error())
				}
			}

			if force {
				// SIGKILL is delivered immediately, only the reaping is left.
				t.sleep(ctx, t.grace/10)
			} else {
				t.sleep(ctx, t.grace)
			}

			remaining = t.alive(ctx, remaining)
			if len(remaining) > 0 {
				return fmt.Errorf("%w: %d process(es) still running", types.ErrResourceBusy, len(remaining))
			}

			return nil
		}
	}

	tolerateBusy := func(err error) bool { return errors.Is(err, types.ErrResourceBusy) }
	if _, err := FirstSuccess(ctx, t.log, tolerateBusy,
		Strategy{Name: "graceful", Run: signalAll(false)},
		Strategy{Name: "forceful", Run: signalAll(true)},
	); err != nil {
		t.log.Info("processes survived termination", "count", len(remaining))
	}

	gone := make([]types.ManagedProcess, 0, len(targets))
	for _, p := range targets {
		if !containsPID(remaining, p.PID) {
			gone = append(gone, p)
		}
	}

	return gone, remaining
}

func (t terminator) alive(ctx context.Context, procs []types.ManagedProcess) []types.ManagedProcess {
	out := make([]types.ManagedProcess, 0)
	for _, p := range procs {
		if t.procs.Alive(ctx, p.PID) {
			out = append(out, p)
		}
	}
	return out
}

func containsPID(procs []types.ManagedProcess, pid int32) bool {
	for _, p := range procs {
		if p.PID == pid {
			return true
		}
	}
	return false
}
