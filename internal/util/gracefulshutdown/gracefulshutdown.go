/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gracefulshutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ExitCodeInterrupted is the exit code used when a second signal forces the process out.
const ExitCodeInterrupted = 130

// GracefulShutdown cancels its context on the first SIGINT or SIGTERM so the running command
// can stop at its next step. A second signal exits immediately.
type GracefulShutdown struct {
	ctx    context.Context
	cancel context.CancelFunc
	name   string

	signals chan os.Signal
	done    chan struct{}
	once    sync.Once

	// exitFunc allows injecting exit behavior for testing
	exitFunc func(int)
}

func NewWithExit(parent context.Context, name string, exitFunc func(int)) *GracefulShutdown {
	ctx, cancel := context.WithCancel(parent)

	s := &GracefulShutdown{
		ctx:      ctx,
		cancel:   cancel,
		name:     name,
		signals:  make(chan os.Signal, 2),
		done:     make(chan struct{}),
		exitFunc: exitFunc,
	}

	signal.Notify(s.signals, syscall.SIGTERM, os.Interrupt)
	go s.watch()

	return s
}

func New(name string) *GracefulShutdown {
	return NewWithExit(context.Background(), name, os.Exit)
}

func (s *GracefulShutdown) watch() {
	select {
	case sig := <-s.signals:
		slog.Warn("interrupted, stopping after the current step", "name", s.name, "signal", sig.String())
		s.cancel()
	case <-s.done:
		return
	}

	select {
	case sig := <-s.signals:
		slog.Warn("interrupted again, exiting", "name", s.name, "signal", sig.String())
		s.exitFunc(ExitCodeInterrupted)
	case <-s.done:
	}
}

// Stop releases the signal handlers and cancels the context. It is safe to call more than once.
func (s *GracefulShutdown) Stop() {
	s.once.Do(func() {
		signal.Stop(s.signals)
		close(s.done)
		s.cancel()
	})
}

func (s *GracefulShutdown) Context() context.Context {
	return s.ctx
}
