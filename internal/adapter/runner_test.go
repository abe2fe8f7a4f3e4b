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

package adapter

import (
	"context"
	"strings"

	"github.com/alexandremahdhaoui/canlink/pkg/execcontext"
)

// fakeRunner records every command and answers with the output/error registered for it.
type fakeRunner struct {
	calls   []string
	outputs map[string]string
	errs    map[string]error
}

var _ execcontext.Runner = &fakeRunner{}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]string{}, errs: map[string]error{}}
}

func (r *fakeRunner) on(cmd, output string, err error) *fakeRunner {
	r.outputs[cmd] = output
	r.errs[cmd] = err
	return r
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, cmd)

	if err := r.errs[cmd]; err != nil {
		return []byte(r.outputs[cmd]), &execcontext.CommandError{Cmd: cmd, Output: r.outputs[cmd], Err: err}
	}

	return []byte(r.outputs[cmd]), nil
}
