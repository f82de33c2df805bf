// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes metrics and health over HTTP.
//
// # Endpoints
//
//   - GET /metrics - Prometheus exposition of the metrics registry
//   - GET /healthz - model server check and event channel state
//   - GET /status  - session state and turn counters (when configured)
//
// Every route runs behind request IDs, panic recovery, security headers,
// request logging and a per-IP rate limit.
//
// # Usage
//
//	srv := server.New(cfg.Metrics.Addr,
//	    server.WithModelServer(client),
//	    server.WithStatus(ctrl),
//	    server.WithLogger(logger),
//	)
//	go srv.Start()
//	defer srv.Shutdown(context.Background())
package server
