// Package worker provides a fixed-size goroutine pool for one-shot jobs.
//
// A Pool owns N long-lived worker goroutines and an unbounded FIFO queue.
// Submit enqueues a job and returns immediately; exactly one idle worker
// dequeues it and runs it to completion. Dequeuing is serialized by a mutex
// that is released before the job runs, so a long job never blocks the
// other workers.
//
// # Basic Usage
//
//	pool, err := worker.New(4) // 4 workers, all running on return
//	if err != nil {
//	    return err // worker.ErrInvalidSize for size <= 0
//	}
//	defer pool.Close()
//
//	for i := 0; i < 100; i++ {
//	    if err := pool.Submit(func() {
//	        // do work
//	    }); err != nil {
//	        return err // worker.ErrPoolClosed after shutdown
//	    }
//	}
//
// # Configuration
//
// Use NewWithConfig to name the pool and attach an Observer (metrics) or an
// events.Bus (panic, rejection and lifecycle events):
//
//	pool, err := worker.NewWithConfig(worker.PoolConfig{
//	    Size:     8,
//	    Name:     "http",
//	    Observer: collector,
//	    Events:   bus,
//	})
//
// # Failure Handling
//
// A job that panics is recovered by its worker, logged with a stack trace and
// counted in Stats().Panicked. The worker returns to the queue, so the pool
// never shrinks.
//
// # Graceful Shutdown
//
// Shutdown stops intake, then either drains (ShutdownDrain) or discards
// (ShutdownDiscard) the queued jobs, and joins every worker goroutine.
// Jobs already running always finish. The context bounds how long the
// caller waits for the join.
package worker
