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
	"fmt"

	"github.com/alexandremahdhaoui/canlink/internal/types"
)

// RequirePrivilege returns ErrPrivilege unless euid is root.
func RequirePrivilege(euid int) error {
	if euid != 0 {
		return fmt.Errorf("%w: running as uid %d, re-run with sudo", types.ErrPrivilege, euid)
	}
	return nil
}
