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

// Package execcontext runs external commands with an optional prepended command (e.g. "sudo")
// and extra environment variables.
package execcontext

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"strings"
)

var ErrCommandFailed = errors.New("command failed")

type Context interface {
	Envs() map[string]string
	PrependCmd() []string
}

func New(envs map[string]string, prependCmd []string) Context {
	return &execContext{
		prependCmd: prependCmd,
		envs:       envs,
	}
}

type execContext struct {
	envs       map[string]string
	prependCmd []string
}

// Envs implements Context.
func (c *execContext) Envs() map[string]string {
	out := make(map[string]string, len(c.envs))
	maps.Copy(out, c.envs)
	return out
}

// PrependCmd implements Context.
func (c *execContext) PrependCmd() []string {
	out := make([]string, len(c.prependCmd))
	copy(out, c.prependCmd)
	return out
}

// ApplyToCmd rewrites cmd so it runs behind the prepended command with the extra envs.
// The parent environment is kept.
func ApplyToCmd(ctx Context, cmd *exec.Cmd) {
	if envs := ctx.Envs(); len(envs) > 0 {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		for k, v := range envs {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	prependCmd := ctx.PrependCmd()
	if len(prependCmd) < 1 {
		return
	}

	tmpCmd := exec.Command(prependCmd[0], prependCmd[1:]...)
	cmd.Path = tmpCmd.Path
	cmd.Err = tmpCmd.Err
	cmd.Args = append(tmpCmd.Args, cmd.Args...)
}

func FormatCmd(ctx Context, cmd ...string) string {
	var sb strings.Builder

	for k, v := range ctx.Envs() {
		fmt.Fprintf(&sb, "%s=%q ", k, v)
	}

	for _, s := range ctx.PrependCmd() {
		appendToCmd(&sb, s)
	}

	for _, s := range cmd {
		appendToCmd(&sb, s)
	}

	return strings.TrimSpace(sb.String())
}

var unquotable = map[string]struct{}{
	"&&": {},
	"||": {},
	";":  {},
	":":  {},
	"&":  {},
}

func appendToCmd(sb *strings.Builder, s string) {
	if _, ok := unquotable[s]; ok {
		fmt.Fprintf(sb, "%s ", s)
		return
	}
	fmt.Fprintf(sb, "%q ", s)
}

// ---------------------------------------------------- RUNNER ------------------------------------------------------ //

// Runner runs a command to completion and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError is returned by a Runner when the command fails to start or exits non-zero.
type CommandError struct {
	Cmd    string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s: %v, output: %s", ErrCommandFailed, e.Cmd, e.Err, strings.TrimSpace(e.Output))
}

func (e *CommandError) Unwrap() []error {
	return []error{ErrCommandFailed, e.Err}
}

// NewRunner returns a Runner executing commands within execCtx.
func NewRunner(execCtx Context) Runner {
	return &runner{execCtx: execCtx}
}

type runner struct {
	execCtx Context
}

// Run implements Runner.
func (r *runner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	ApplyToCmd(r.execCtx, cmd)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, &CommandError{
			Cmd:    FormatCmd(r.execCtx, append([]string{name}, args...)...),
			Output: string(out),
			Err:    err,
		}
	}

	return out, nil
}
