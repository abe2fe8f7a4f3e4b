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

// Package metrics records the outcome of canlink steps. A one-shot CLI has no scrape
// endpoint, so the registry is flushed to a node-exporter textfile when the run ends.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexandremahdhaoui/canlink/internal/types"
)

const namespace = "canlink"

// Step outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeTolerated = "tolerated"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var ErrWriteTextfile = errors.New("failed to write metrics textfile")

// Recorder owns a private registry. All methods are safe on a nil *Recorder.
type Recorder struct {
	registry   *prometheus.Registry
	steps      *prometheus.CounterVec
	interfaces *prometheus.GaugeVec
	runSuccess *prometheus.GaugeVec
}

// NewRecorder returns a Recorder with every collector registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_total",
			Help:      "Number of reconciliation steps by component and outcome.",
		}, []string{"component", "outcome"}),
		interfaces: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interfaces",
			Help:      "CAN-family interfaces observed at the end of the run by kind and admin state.",
		}, []string{"kind", "state"}),
		runSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_success",
			Help:      "Whether the last run of a command succeeded (1) or failed (0).",
		}, []string{"command"}),
	}

	r.registry.MustRegister(r.steps, r.interfaces, r.runSuccess)

	return r
}

// Registry returns the registry the collectors are registered to.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Step counts one step of component with the given outcome.
func (r *Recorder) Step(component, outcome string) {
	if r == nil {
		return
	}
	r.steps.WithLabelValues(component, outcome).Inc()
}

// ObserveSnapshot replaces the interface gauges with the content of snapshot.
func (r *Recorder) ObserveSnapshot(snapshot types.Snapshot) {
	if r == nil {
		return
	}

	r.interfaces.Reset()
	for _, d := range snapshot.Interfaces {
		r.interfaces.WithLabelValues(d.Kind.String(), d.AdminState.String()).Inc()
	}
}

// RunResult records whether command succeeded.
func (r *Recorder) RunResult(command string, ok bool) {
	if r == nil {
		return
	}

	v := 0.0
	if ok {
		v = 1
	}
	r.runSuccess.WithLabelValues(command).Set(v)
}

// WriteTextfile atomically writes the registry in the text exposition format to path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}

	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteTextfile, err)
	}

	return nil
}
