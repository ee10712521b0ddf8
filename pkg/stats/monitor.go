// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stats exports Prometheus metrics for the media call core.
package stats

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// CallDir labels metrics with the call direction.
type CallDir bool

const (
	Inbound  = CallDir(false)
	Outbound = CallDir(true)
)

func (d CallDir) String() string {
	if d == Inbound {
		return "in"
	}
	return "out"
}

// durBucketsCall lists histogram buckets for call durations, in seconds.
var durBucketsCall = []float64{
	1, 10, 60, 10 * 60, 30 * 60, 3600, 6 * 3600, 12 * 3600, 24 * 3600,
}

type Monitor struct {
	inviteReq       *prometheus.CounterVec
	inviteErr       *prometheus.CounterVec
	callsActive     *prometheus.GaugeVec
	callsTerminated *prometheus.CounterVec
	iceRetries      *prometheus.CounterVec
	encRejected     prometheus.Counter
	ftBytes         *prometheus.CounterVec
	durCall         *prometheus.HistogramVec

	metrics []prometheus.Collector
}

func mustRegister[T prometheus.Collector](m *Monitor, c T) T {
	err := prometheus.Register(c)
	if err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			return e.ExistingCollector.(T)
		} else {
			panic(err)
		}
	}
	m.metrics = append(m.metrics, c)
	return c
}

func NewMonitor() *Monitor {
	m := &Monitor{}

	m.inviteReq = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediacall",
		Subsystem: "sip",
		Name:      "invite_requests",
		Help:      "Number of SIP INVITE requests sent or received",
	}, []string{"dir"}))

	m.inviteErr = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediacall",
		Subsystem: "sip",
		Name:      "invite_errors",
		Help:      "Number of failure responses to outbound INVITE requests",
	}, []string{"status"}))

	m.callsActive = mustRegister(m, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mediacall",
		Subsystem: "sip",
		Name:      "calls_active",
		Help:      "Number of currently active media calls",
	}, []string{"dir"}))

	m.callsTerminated = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediacall",
		Subsystem: "sip",
		Name:      "calls_terminated",
		Help:      "Number of terminated media calls",
	}, []string{"reason"}))

	m.iceRetries = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediacall",
		Subsystem: "sip",
		Name:      "ice_version_retries",
		Help:      "Number of calls retried under the alternative ICE version",
	}, []string{"to_version"}))

	m.encRejected = mustRegister(m, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediacall",
		Subsystem: "sip",
		Name:      "encryption_incompatible",
		Help:      "Number of calls failed on encryption policy incompatibility",
	}))

	m.ftBytes = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediacall",
		Subsystem: "filetransfer",
		Name:      "bytes",
		Help:      "File transfer payload bytes moved on data streams",
	}, []string{"dir"}))

	m.durCall = mustRegister(m, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediacall",
		Subsystem: "sip",
		Name:      "dur_call_sec",
		Help:      "Duration of established media calls",
		Buckets:   durBucketsCall,
	}, []string{"dir"}))

	return m
}

func (m *Monitor) InviteReq(dir CallDir) {
	if m == nil {
		return
	}
	m.inviteReq.WithLabelValues(dir.String()).Inc()
}

func (m *Monitor) InviteError(status string) {
	if m == nil {
		return
	}
	m.inviteErr.WithLabelValues(status).Inc()
}

func (m *Monitor) CallStarted(dir CallDir) {
	if m == nil {
		return
	}
	m.callsActive.WithLabelValues(dir.String()).Inc()
}

func (m *Monitor) CallEnded(dir CallDir, reason string, durSec float64) {
	if m == nil {
		return
	}
	m.callsActive.WithLabelValues(dir.String()).Dec()
	m.callsTerminated.WithLabelValues(reason).Inc()
	if durSec > 0 {
		m.durCall.WithLabelValues(dir.String()).Observe(durSec)
	}
}

func (m *Monitor) ICERetry(toVersion string) {
	if m == nil {
		return
	}
	m.iceRetries.WithLabelValues(toVersion).Inc()
}

func (m *Monitor) EncryptionIncompatible() {
	if m == nil {
		return
	}
	m.encRejected.Inc()
}

func (m *Monitor) FileTransferBytes(dir CallDir, n int) {
	if m == nil {
		return
	}
	m.ftBytes.WithLabelValues(dir.String()).Add(float64(n))
}

// Stop unregisters every collector the monitor registered.
func (m *Monitor) Stop() {
	for _, c := range m.metrics {
		prometheus.Unregister(c)
	}
	m.metrics = nil
}
