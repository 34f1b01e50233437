// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunkStoreBytes tracks content-store occupancy.
	ChunkStoreBytes = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "chunk_bytes_used",
			Help:      "Bytes currently occupied by the content-addressed chunk store",
		},
	)

	// ChunkOperations tracks put/get outcomes.
	ChunkOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "chunk_operations_total",
			Help:      "Total chunk store operations by kind and outcome",
		},
		[]string{"operation", "outcome"}, // get: hit/miss; put: ok/capacity_exceeded
	)

	// GCSweeps tracks content-store garbage collection runs.
	GCSweeps = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "gc_sweeps_total",
			Help:      "Total content-store GC sweeps and the entries purged",
		},
		[]string{"table"}, // recipes, playercache
	)
)
