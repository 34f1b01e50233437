// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PhonebookEntries tracks the current size of each group's phonebook.
	PhonebookEntries = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "phonebook",
			Name:      "entries",
			Help:      "Current phonebook entry count by status",
		},
		[]string{"group_id", "status"}, // active, stale, tombstoned
	)

	// PhonebookMerges tracks merge outcomes.
	PhonebookMerges = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "phonebook",
			Name:      "merges_total",
			Help:      "Total phonebook merge operations by outcome",
		},
		[]string{"outcome"}, // accepted, rejected_signature, unchanged
	)

	// GossipRounds tracks gossip exchanges sent/received.
	GossipRounds = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "phonebook",
			Name:      "gossip_rounds_total",
			Help:      "Total phonebook gossip rounds by direction",
		},
		[]string{"direction"}, // sent, received
	)
)
