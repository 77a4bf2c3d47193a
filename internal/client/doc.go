// Package client provides a load generator for the page server.
//
// The Client opens one TCP connection per request against a server address,
// sends a single request line and validates the response framing. Requests
// are executed on the client's own worker pool, so the load generator
// exercises the same pool implementation as the server it targets.
//
// # Basic Usage
//
//	config := client.DefaultConfig()
//	config.Addr = "127.0.0.1:7878"
//	config.SlowRatio = 0.1 // 10% of requests hit /sleep
//	cl, err := client.New(config)
//	if err != nil {
//		return err
//	}
//
//	// Run for a duration
//	snap := cl.RunFor(ctx, 10*time.Second)
//	fmt.Printf("Total: %d, RPS: %.2f\n", snap.TotalRequests, snap.RPS)
//
// A Client is single use: once stopped, its pool is shut down. Use
// RunRequests on a fresh Client to issue a fixed number of requests.
//
// # Configuration
//
// The Config struct allows tuning:
//   - NumWorkers: parallel workers (0 = CPU count)
//   - SlowRatio: fraction of requests sent to /sleep
//   - NotFoundRatio: fraction of requests sent to an unknown path
//   - Timeout: per-request dial and I/O deadline
//   - RequestsLimit: max requests (0 = unlimited)
package client
