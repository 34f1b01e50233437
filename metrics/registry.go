// SPDX-License-Identifier: LGPL-3.0-or-later

// Package metrics exposes Prometheus counters and gauges for every
// syncshell component: one shared Registry, promauto-registered vars
// grouped per concern, and an HTTP handler/server for the optional
// /metrics endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "syncshell"

// Registry is the single prometheus.Registerer every metric in this
// package registers against, so the module exposes exactly its own
// metrics rather than the global default registry's. It is shared by
// every Runtime in the process.
var Registry = prometheus.NewRegistry()
