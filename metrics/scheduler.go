// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProximityTicks tracks scheduler ticks processed.
	ProximityTicks = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total proximity scheduler ticks processed",
		},
	)

	// SyncsEnqueued tracks outbound syncs the scheduler requested, by
	// reason they were (or were not) enqueued.
	SyncsEnqueued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "syncs_enqueued_total",
			Help:      "Total outbound syncs enqueued or skipped by the proximity scheduler",
		},
		[]string{"outcome"}, // enqueued, skipped_no_movement, skipped_blocked, skipped_recent_announce
	)
)
