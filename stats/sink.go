// Copyright 2024 The bxcommon Authors
// This file is part of bxcommon.
//
// bxcommon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// bxcommon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with bxcommon. If not, see <http://www.gnu.org/licenses/>.

// Package stats implements the node's observability surface (spec.md §7
// Observability): message latency, connection counts, and transaction-index
// size, exported with github.com/prometheus/client_golang the way the
// example pack's broader dependency set favors Prometheus-style metrics over
// a bespoke stats endpoint.
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is the capability interface node.Runtime and its subsystems depend on
// (spec.md §9's capability-interface redesign), so tests can substitute a
// no-op or recording fake without standing up a registry.
type Sink interface {
	RecordMessageSent(connType string, bytes int, latencyMS float64)
	RecordConnectionEstablished(connType string)
	RecordConnectionClosed(connType string)
	SetTxServiceSize(shortIDCount, contentsCount int, totalBytes uint64)
	SetConnectionPoolSize(n int)
}

// PrometheusSink is the concrete Sink backed by a dedicated registry, served
// over HTTP via promhttp.
type PrometheusSink struct {
	registry *prometheus.Registry

	messagesSent     *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	sendLatencyMS    *prometheus.HistogramVec
	connectionsTotal *prometheus.CounterVec
	connectionsOpen  *prometheus.GaugeVec
	txShortIDCount   prometheus.Gauge
	txContentsCount  prometheus.Gauge
	txContentsBytes  prometheus.Gauge
	connectionPoolSize prometheus.Gauge
}

// NewPrometheusSink registers all of the node's metrics on a fresh registry.
func NewPrometheusSink() *PrometheusSink {
	reg := prometheus.NewRegistry()

	s := &PrometheusSink{
		registry: reg,
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bxcommon_messages_sent_total",
			Help: "Number of messages fully flushed to a peer connection.",
		}, []string{"conn_type"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bxcommon_bytes_sent_total",
			Help: "Number of payload bytes flushed to a peer connection.",
		}, []string{"conn_type"}),
		sendLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bxcommon_message_send_latency_ms",
			Help:    "Milliseconds between a message being queued and fully flushed.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"conn_type"}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bxcommon_connections_established_total",
			Help: "Number of connections added to the connection pool.",
		}, []string{"conn_type"}),
		connectionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bxcommon_connections_open",
			Help: "Number of currently open connections by type.",
		}, []string{"conn_type"}),
		txShortIDCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bxcommon_tx_service_short_id_count",
			Help: "Number of short-id assignments currently tracked.",
		}),
		txContentsCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bxcommon_tx_service_contents_count",
			Help: "Number of distinct transaction hashes with cached contents.",
		}),
		txContentsBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bxcommon_tx_service_contents_bytes",
			Help: "Total bytes of cached transaction contents.",
		}),
		connectionPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bxcommon_connection_pool_size",
			Help: "Number of live connections in the pool.",
		}),
	}

	reg.MustRegister(
		s.messagesSent, s.bytesSent, s.sendLatencyMS,
		s.connectionsTotal, s.connectionsOpen,
		s.txShortIDCount, s.txContentsCount, s.txContentsBytes,
		s.connectionPoolSize,
	)
	return s
}

// RecordMessageSent implements Sink.
func (s *PrometheusSink) RecordMessageSent(connType string, bytes int, latencyMS float64) {
	s.messagesSent.WithLabelValues(connType).Inc()
	s.bytesSent.WithLabelValues(connType).Add(float64(bytes))
	s.sendLatencyMS.WithLabelValues(connType).Observe(latencyMS)
}

// RecordConnectionEstablished implements Sink.
func (s *PrometheusSink) RecordConnectionEstablished(connType string) {
	s.connectionsTotal.WithLabelValues(connType).Inc()
	s.connectionsOpen.WithLabelValues(connType).Inc()
}

// RecordConnectionClosed implements Sink.
func (s *PrometheusSink) RecordConnectionClosed(connType string) {
	s.connectionsOpen.WithLabelValues(connType).Dec()
}

// SetTxServiceSize implements Sink.
func (s *PrometheusSink) SetTxServiceSize(shortIDCount, contentsCount int, totalBytes uint64) {
	s.txShortIDCount.Set(float64(shortIDCount))
	s.txContentsCount.Set(float64(contentsCount))
	s.txContentsBytes.Set(float64(totalBytes))
}

// SetConnectionPoolSize implements Sink.
func (s *PrometheusSink) SetConnectionPoolSize(n int) {
	s.connectionPoolSize.Set(float64(n))
}

// Handler returns the http.Handler that serves this sink's registry in the
// Prometheus text exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// NoopSink discards every recorded metric, used by tests.
type NoopSink struct{}

func (NoopSink) RecordMessageSent(string, int, float64)          {}
func (NoopSink) RecordConnectionEstablished(string)              {}
func (NoopSink) RecordConnectionClosed(string)                   {}
func (NoopSink) SetTxServiceSize(int, int, uint64)                {}
func (NoopSink) SetConnectionPoolSize(int)                        {}
