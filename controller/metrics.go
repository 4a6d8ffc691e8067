/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package controller

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ableton-link/link/session"
)

// Metrics are the Prometheus collectors a Controller reports through,
// mirroring the gauge/counter split the teacher uses for its PTP
// client metrics (ptp/sptp/client).
type Metrics struct {
	NumPeers           prometheus.Gauge
	TempoBPM           prometheus.Gauge
	SessionSwitches    prometheus.Counter
	MeasurementsOK     prometheus.Counter
	MeasurementsFailed prometheus.Counter
	FounderMeasured    prometheus.Gauge
}

// NewMetrics constructs and registers a Metrics set under the given
// namespace. Callers typically register the result with a process-wide
// prometheus.Registerer once per Controller instance.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NumPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "link_num_peers",
			Help: "Number of distinct peers in the current session.",
		}),
		TempoBPM: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "link_tempo_bpm",
			Help: "Current session tempo in beats per minute.",
		}),
		SessionSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "link_session_switches_total",
			Help: "Number of times this node has switched which session it follows.",
		}),
		MeasurementsOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "link_measurements_succeeded_total",
			Help: "Number of peer-clock measurements that completed successfully.",
		}),
		MeasurementsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "link_measurements_failed_total",
			Help: "Number of peer-clock measurements that failed or timed out.",
		}),
		FounderMeasured: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "link_founder_measured",
			Help: "1 if this node's session founder xform has been replaced by a completed measurement, 0 if it is still the unmeasured identity.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.NumPeers, m.TempoBPM, m.SessionSwitches, m.MeasurementsOK, m.MeasurementsFailed, m.FounderMeasured)
	}
	return m
}

// Attach wires m's gauges and counters to c's callbacks and, where
// there is no natural callback (measurement outcomes, session
// switches), to Discovery's own hooks.
//
// Each of onNumPeers and onTempo is optional (nil is fine) and is
// invoked after the corresponding gauge update, composed into the same
// callback: Controller's setters replace a single slot per callback
// (OnTempoChanged, OnNumPeersChanged), so a caller that wants both the
// metric updated and its own logic run on the same event must register
// one callback that does both rather than calling the setter twice.
func (c *Controller) Attach(m *Metrics, onNumPeers func(int), onTempo func(float64)) {
	m.TempoBPM.Set(c.CaptureAppSessionState().Timeline.Tempo.BPM())
	m.NumPeers.Set(float64(c.NumPeers()))
	setFounderMeasured(m, c.FounderMeasured())

	c.OnTempoChanged(func(bpm float64) {
		m.TempoBPM.Set(bpm)
		if onTempo != nil {
			onTempo(bpm)
		}
	})
	c.OnNumPeersChanged(func(n int) {
		m.NumPeers.Set(float64(n))
		if onNumPeers != nil {
			onNumPeers(n)
		}
	})
	c.OnJoinSession(func(_ session.Info) {
		m.SessionSwitches.Inc()
		setFounderMeasured(m, c.FounderMeasured())
	})
	c.OnMeasurementResult(func(succeeded bool) {
		if succeeded {
			m.MeasurementsOK.Inc()
		} else {
			m.MeasurementsFailed.Inc()
		}
		setFounderMeasured(m, c.FounderMeasured())
	})
}

func setFounderMeasured(m *Metrics, measured bool) {
	if measured {
		m.FounderMeasured.Set(1)
	} else {
		m.FounderMeasured.Set(0)
	}
}
