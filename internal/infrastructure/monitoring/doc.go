/*
Package monitoring provides Prometheus-based metrics collection.

Tracked metrics:

- HTTP request metrics (latency, throughput, status)
- Session lifecycle (created, active)
- Command execution (count by status, duration)
- Lifecycle markers decoded from the output stream
- WebSocket display attachments and message counts
- Uptime

Usage:

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))

	timer := monitoring.NewTimer(metrics)
	// ... execute a command ...
	timer.Stop("success")

Expose via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

All Record* methods are nil-receiver safe so wiring can omit metrics
in tests.
*/
package monitoring
