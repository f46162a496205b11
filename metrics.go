// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beamflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects decoding throughput.
type Metrics struct {
	registry *prometheus.Registry

	sentencesTotal  *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
	splitDuration   *prometheus.GaugeVec
	splitThroughput *prometheus.GaugeVec
	forcedTotal     *prometheus.CounterVec
}

// NewMetrics returns metrics registered on a new registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		sentencesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beamflow_sentences_total",
				Help: "Total number of decoded sentences",
			},
			[]string{"split"},
		),
		batchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beamflow_batch_duration_seconds",
				Help:    "Beam search duration per batch in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"split"},
		),
		splitDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "beamflow_split_duration_seconds",
				Help: "Wall-clock duration of the last translation of a split",
			},
			[]string{"split"},
		),
		splitThroughput: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "beamflow_split_sentences_per_second",
				Help: "Throughput of the last translation of a split",
			},
			[]string{"split"},
		),
		forcedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beamflow_forced_hypotheses_total",
				Help: "Best hypotheses finished without an end token",
			},
			[]string{"split"},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteToTextfile writes the metrics in the text exposition format, for
// the node exporter textfile collector.
func (m *Metrics) WriteToTextfile(filename string) error {
	return prometheus.WriteToTextfile(filename, m.registry)
}

func (m *Metrics) observeBatch(split string, size int, forced int, d time.Duration) {
	m.sentencesTotal.WithLabelValues(split).Add(float64(size))
	m.forcedTotal.WithLabelValues(split).Add(float64(forced))
	m.batchDuration.WithLabelValues(split).Observe(d.Seconds())
}

func (m *Metrics) observeSplit(split string, d time.Duration, perSecond float64) {
	m.splitDuration.WithLabelValues(split).Set(d.Seconds())
	m.splitThroughput.WithLabelValues(split).Set(perSecond)
}
