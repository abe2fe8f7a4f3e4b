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
	"os"
	"path/filepath"
	"sort"

	"github.com/alexandremahdhaoui/canlink/internal/types"
)

// DefaultArtifactPatterns are the stale sockets and lock files left behind by CAN tooling.
var DefaultArtifactPatterns = []string{
	"/tmp/can*.sock",
	"/tmp/can*.lock",
	"/tmp/.can*.lock",
	"/var/lock/LCK..ttyUSB*",
	"/var/lock/LCK..ttyACM*",
	"/run/slcand*.pid",
}

var ErrRemoveArtifact = errors.New("failed to remove artifact")

// ArtifactStore finds and removes filesystem artifacts.
type ArtifactStore interface {
	// Glob returns the sorted, de-duplicated paths matching any pattern.
	Glob(ctx context.Context, patterns []string) ([]string, error)
	// Remove deletes path. A missing path yields ErrResourceAbsent.
	Remove(ctx context.Context, path string) error
}

// NewArtifactStore returns an ArtifactStore on the local filesystem.
func NewArtifactStore() ArtifactStore {
	return fsArtifacts{}
}

type fsArtifacts struct{}

func (fsArtifacts) Glob(_ context.Context, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	out := make([]string, 0)

	var errs error
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("pattern %q: %w", pattern, err))
			continue
		}

		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}

	sort.Strings(out)

	return out, errs
}

func (fsArtifacts) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", types.ErrResourceAbsent, path)
		}
		return fmt.Errorf("%w: %s: %w", ErrRemoveArtifact, path, err)
	}
	return nil
}
