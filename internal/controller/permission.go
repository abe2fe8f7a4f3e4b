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
	"fmt"
	"os"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/canlink/internal/adapter"
	"github.com/alexandremahdhaoui/canlink/internal/metrics"
)

const DefaultAccessGroup = "dialout"

const worldReadWrite os.FileMode = 0o666

// PermissionOutcome reports what the PermissionReconciler changed.
type PermissionOutcome struct {
	DeviceNode string
	// DeviceOpened is true when DeviceNode was made world read/write.
	DeviceOpened bool
	User         string
	Group        string
	// AlreadyMember is true when User was a member of Group before reconciling.
	AlreadyMember bool
	GroupAdded    bool
	// SessionRefreshRequired is true when User must open a new session for GroupAdded to apply.
	SessionRefreshRequired bool
	Warnings               []string
}

// PermissionReconciler grants the invoking user access to the interface device.
type PermissionReconciler struct {
	log             logr.Logger
	accounts        adapter.AccountManager
	group           string
	worldAccessible bool
	rec             *metrics.Recorder
}

// NewPermissionReconciler returns a new PermissionReconciler. When worldAccessible is false
// device nodes are left untouched and only group membership is reconciled.
func NewPermissionReconciler(
	log logr.Logger,
	accounts adapter.AccountManager,
	group string,
	worldAccessible bool,
	rec *metrics.Recorder,
) *PermissionReconciler {
	if group == "" {
		group = DefaultAccessGroup
	}

	return &PermissionReconciler{
		log:             log.WithName("permission"),
		accounts:        accounts,
		group:           group,
		worldAccessible: worldAccessible,
		rec:             rec,
	}
}

// Reconcile is best-effort and never fails. The membership change is persistent only: the
// groups of the running session are never modified.
func (r *PermissionReconciler) Reconcile(ctx context.Context, name, device, invokingUser string) PermissionOutcome {
	log := r.log.WithValues("interface", name)
	out := PermissionOutcome{DeviceNode: device, User: invokingUser, Group: r.group}

	warn := func(msg string, err error) {
		log.Info(msg, "err", err.Error())
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %v", msg, err))
		r.rec.Step("permission", metrics.OutcomeTolerated)
	}

	if device != "" && r.worldAccessible {
		if err := r.accounts.Chmod(ctx, device, worldReadWrite); err != nil {
			warn("cannot open device node", err)
		} else {
			out.DeviceOpened = true
			r.rec.Step("permission", metrics.OutcomeOK)
		}
	}

	if invokingUser == "" || invokingUser == "root" {
		return out
	}

	member, err := r.accounts.InGroup(ctx, invokingUser, r.group)
	if err != nil {
		warn("cannot check group membership", err)
	}

	if member {
		out.AlreadyMember = true
		return out
	}

	if err := r.accounts.AddToGroup(ctx, invokingUser, r.group); err != nil {
		warn("cannot add user to access group", err)
		return out
	}

	out.GroupAdded = true
	out.SessionRefreshRequired = true
	r.rec.Step("permission", metrics.OutcomeOK)
	log.Info("user added to access group, a new session is required", "user", invokingUser, "group", r.group)

	return out
}
