/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the
execution substrate, tracking HTTP requests, command executions, terminal
sessions, pool occupancy, and circuit breaker behavior.

# Features

- HTTP request metrics (latency, throughput, size)
- Execution metrics (per mode and command, duration, retries)
- Terminal session lifecycle metrics
- Connection pool metrics (dials, idle and leased connections)
- Circuit breaker state and transition metrics
- WebSocket connection metrics
- System metrics (uptime)

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record custom metrics
	metrics.SetSessionsActive(5)
	metrics.RecordPoolDial("deploy@db-1:22")

	// Time operations
	timer := monitoring.NewTimer(metrics, "ssh", "run_script")
	// ... perform operation ...
	timer.Stop("success")

# Metrics Endpoint

Each collector owns its registry; expose it with promhttp:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring
