// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersStarted tracks recipe transfers begun, by direction.
	TransfersStarted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "started_total",
			Help:      "Total mod-recipe transfers started",
		},
		[]string{"direction"}, // inbound, outbound
	)

	// TransfersFailed tracks aborted transfers, by reason.
	TransfersFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "failed_total",
			Help:      "Total mod-recipe transfers aborted, by reason",
		},
		[]string{"reason"}, // crypto_auth_fail, chunk_verify_failed, capacity_exceeded, timeout, apply_failed
	)

	// BytesTransferred tracks chunk bytes moved, by direction.
	BytesTransferred = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Total chunk bytes transferred",
		},
		[]string{"direction"},
	)

	// InboundTransfersActive tracks the global concurrent-inbound-transfer
	// gauge, capped at config.TransportConfig.MaxInboundTransfers.
	InboundTransfersActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "inbound_active",
			Help:      "Currently in-flight inbound recipe transfers",
		},
	)

	// DedupDrops tracks frames dropped by protocol.Dedup.
	DedupDrops = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "dedup_drops_total",
			Help:      "Total frames dropped as duplicates",
		},
	)
)
