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
	"os/user"
	"slices"

	"github.com/alexandremahdhaoui/canlink/pkg/execcontext"
)

var (
	ErrLookupUser  = errors.New("failed to look up user")
	ErrAddToGroup  = errors.New("failed to add user to group")
	ErrChmodDevice = errors.New("failed to change device node mode")
)

// AccountManager manages persistent group membership and device node modes.
type AccountManager interface {
	// InGroup reports whether username is a persistent member of group.
	InGroup(ctx context.Context, username, group string) (bool, error)
	// AddToGroup appends group to the supplementary groups of username. It only affects
	// sessions started afterwards.
	AddToGroup(ctx context.Context, username, group string) error
	Chmod(ctx context.Context, path string, mode os.FileMode) error
}

// NewAccountManager returns an AccountManager backed by the user database and usermod.
func NewAccountManager(runner execcontext.Runner) AccountManager {
	return &accountManager{runner: runner}
}

type accountManager struct {
	runner execcontext.Runner
}

func (m *accountManager) InGroup(_ context.Context, username, group string) (bool, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrLookupUser, username, err)
	}

	g, err := user.LookupGroup(group)
	if err != nil {
		return false, fmt.Errorf("%w: group %s: %w", ErrLookupUser, group, err)
	}

	gids, err := u.GroupIds()
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrLookupUser, username, err)
	}

	return slices.Contains(gids, g.Gid), nil
}

func (m *accountManager) AddToGroup(ctx context.Context, username, group string) error {
	if _, err := m.runner.Run(ctx, "usermod", "-aG", group, username); err != nil {
		return fmt.Errorf("%w: %s -> %s: %w", ErrAddToGroup, username, group, err)
	}
	return nil
}

func (m *accountManager) Chmod(_ context.Context, path string, mode os.FileMode) error {
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrChmodDevice, path, err)
	}
	return nil
}
