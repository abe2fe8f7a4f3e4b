//go:build unit

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

package controller_test

import (
	"context"
	"os"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"

	"github.com/alexandremahdhaoui/canlink/internal/controller"
)

func TestPermissionReconciler(t *testing.T) {
	tests := []struct {
		name            string
		device          string
		user            string
		groups          map[string][]string
		worldAccessible bool
		want            controller.PermissionOutcome
		wantCalls       []string
	}{
		{
			name:            "user added to group and device opened",
			device:          "/dev/ttyACM0",
			user:            "alice",
			groups:          map[string][]string{"alice": {"alice", "sudo"}},
			worldAccessible: true,
			want: controller.PermissionOutcome{
				DeviceNode:             "/dev/ttyACM0",
				DeviceOpened:           true,
				User:                   "alice",
				Group:                  "dialout",
				GroupAdded:             true,
				SessionRefreshRequired: true,
			},
			wantCalls: []string{"account.chmod /dev/ttyACM0 666", "account.add alice dialout"},
		},
		{
			name:   "already member",
			user:   "bob",
			groups: map[string][]string{"bob": {"dialout"}},
			want: controller.PermissionOutcome{
				User:          "bob",
				Group:         "dialout",
				AlreadyMember: true,
			},
		},
		{
			name:            "root and no device",
			user:            "root",
			worldAccessible: true,
			want:            controller.PermissionOutcome{User: "root", Group: "dialout"},
		},
		{
			name:   "strict permissions leave the device alone",
			device: "/dev/ttyUSB0",
			want:   controller.PermissionOutcome{DeviceNode: "/dev/ttyUSB0", Group: "dialout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHost()
			if tt.groups != nil {
				h.groups = tt.groups
			}

			r := controller.NewPermissionReconciler(logr.Discard(), fakeAccounts{h}, "", tt.worldAccessible, nil)
			got := r.Reconcile(context.Background(), "can0", tt.device, tt.user)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCalls, filterCalls(h.calls, "account."))
		})
	}
}

func TestPermissionReconciler_UnknownUserIsBestEffort(t *testing.T) {
	h := newFakeHost()
	r := controller.NewPermissionReconciler(logr.Discard(), fakeAccounts{h}, "plugdev", true, nil)

	got := r.Reconcile(context.Background(), "can0", "/dev/ttyACM0", "ghost")

	assert.Equal(t, os.FileMode(0o666), h.chmods["/dev/ttyACM0"])
	assert.Equal(t, "plugdev", got.Group)
	assert.Len(t, got.Warnings, 1)
	assert.True(t, got.GroupAdded)
	assert.True(t, got.SessionRefreshRequired)
}
