/*
 * MIT License
 *
 * Copyright (c) 2024 the chirp authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package metrics exposes a chirp node's internal counters and gauges as
// Prometheus collectors, so a host process can register them on its own
// registry without chirp ever opening an HTTP listener itself.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors is the set of instruments one chirp node maintains. The zero
// value is not usable; construct with New.
type Collectors struct {
	ConnectionsOpen   prometheus.Gauge
	RemotesTracked    prometheus.Gauge
	MessagesSent      prometheus.Counter
	MessagesAcked     prometheus.Counter
	MessagesTimedOut  prometheus.Counter
	SlotPoolExhausted prometheus.Counter
	GCSweeps          prometheus.Counter
	ReconnectDebounce prometheus.Counter
}

// New builds a Collectors with the given namespace, e.g. "chirp", so
// multiple nodes in one process can be told apart by a "node" constant
// label supplied by the caller via prometheus.WrapRegistererWith.
func New(namespace string) *Collectors {
	return &Collectors{
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of currently open TCP connections.",
		}),
		RemotesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remotes_tracked",
			Help:      "Number of remote peers currently tracked in the protocol tree.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total messages written successfully to a connection.",
		}),
		MessagesAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_acked_total",
			Help:      "Total REQ_ACK messages that completed with an ACK.",
		}),
		MessagesTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_timed_out_total",
			Help:      "Total connections shut down with TIMEOUT by a stalled handshake or write.",
		}),
		SlotPoolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_pool_exhausted_total",
			Help:      "Total times a connection's receive-slot pool was found exhausted.",
		}),
		GCSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_sweeps_total",
			Help:      "Total idle-remote garbage collection sweeps performed.",
		}),
		ReconnectDebounce: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_debounce_total",
			Help:      "Total times a reconnect attempt was delayed by the debounce window.",
		}),
	}
}

// Collect returns every collector, for bulk registration:
//
//	for _, c := range m.Collect() {
//	    registry.MustRegister(c)
//	}
func (m *Collectors) Collect() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionsOpen,
		m.RemotesTracked,
		m.MessagesSent,
		m.MessagesAcked,
		m.MessagesTimedOut,
		m.SlotPoolExhausted,
		m.GCSweeps,
		m.ReconnectDebounce,
	}
}
