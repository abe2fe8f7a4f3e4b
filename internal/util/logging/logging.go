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

// Package logging configures log/slog for canlink and bridges it to logr, the logger the
// controllers take.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
)

// Options configures the logger behavior.
type Options struct {
	// Development switches to the human-readable text handler and enables debug logs.
	Development bool

	// Level sets the minimum log level. Defaults to slog.LevelInfo.
	Level slog.Level

	// Output defaults to os.Stderr so stdout only carries the report.
	Output io.Writer
}

// DefaultOptions returns the default logging options.
func DefaultOptions() Options {
	return Options{
		Development: false,
		Level:       slog.LevelInfo,
	}
}

// Setup installs the slog default logger and returns a logr.Logger writing to the same
// handler. logr V(1) maps to slog.LevelDebug.
func Setup(opts Options) logr.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := opts.Level
	if opts.Development && level > slog.LevelDebug {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.Development {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}

	slog.SetDefault(slog.New(handler))

	return logr.FromSlogHandler(handler)
}
