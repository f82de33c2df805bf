// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus collectors for chat turns, stream
// decoding and the event channel.
//
// Collectors are enqueued by init functions and registered with the
// package Registry on the first MustRegister call. Recording functions are
// safe to call before registration.
package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once       sync.Once
	registered []prometheus.Collector

	// Registry holds every rigrun-chat collector plus the Go runtime ones.
	Registry = prometheus.NewRegistry()
)

// register is called by init() in each metrics file to enqueue collectors.
func register(cs ...prometheus.Collector) {
	registered = append(registered, cs...)
}

// MustRegister registers ALL enqueued collectors exactly once.
func MustRegister() {
	once.Do(func() {
		Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if len(registered) > 0 {
			Registry.MustRegister(registered...)
		}
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	MustRegister()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func norm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
