// Package metrics provides request metrics and Prometheus pool metrics.
//
// Metrics collects statistics about request latency, success/failure rates,
// and throughput (RPS). It is used by the TCP server and the load generator.
//
// # Basic Usage
//
//	m := metrics.New()
//
//	start := time.Now()
//	// ... serve a connection ...
//	m.Record(time.Since(start), err == nil)
//
//	snap := m.Snapshot()
//	fmt.Printf("Total: %d, RPS: %.2f, P99: %v\n",
//	    snap.TotalRequests, snap.RPS, snap.P99Latency)
//
// Use NewWithConfig to change how many recent latency samples feed P99.
//
// # Pool Metrics
//
// PoolCollector implements worker.Observer and exports job counters, the
// active job gauge and a job duration histogram:
//
//	reg := prometheus.NewRegistry()
//	collector, err := metrics.NewPoolCollector("poolserve", reg,
//	    metrics.CollectorOptions{Pool: "http"})
//	pool, err := worker.NewWithConfig(worker.PoolConfig{
//	    Size: 4, Name: "http", Observer: collector,
//	})
//
// Registering a collector twice on the same registry reuses the existing
// collectors.
//
// # Thread Safety
//
// All operations are safe for concurrent access.
package metrics
