package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"poolserve/internal/events"
)

// waitFor は条件が満たされるまでポーリングする
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func TestNewWorkerPool(t *testing.T) {
	for _, size := range []int{1, 2, 4, 8} {
		pool, err := New(size)
		if err != nil {
			t.Fatalf("New(%d) failed: %v", size, err)
		}
		if pool.Size() != size {
			t.Errorf("expected %d workers, got %d", size, pool.Size())
		}
		if alive := pool.Stats().Alive; alive != size {
			t.Errorf("expected %d alive workers, got %d", size, alive)
		}
		if err := pool.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}
}

func TestNewWorkerPoolInvalidSize(t *testing.T) {
	for _, size := range []int{0, -5} {
		pool, err := New(size)
		if !errors.Is(err, ErrInvalidSize) {
			t.Errorf("New(%d): expected ErrInvalidSize, got %v", size, err)
		}
		if pool != nil {
			t.Errorf("New(%d): expected nil pool", size)
		}
	}
}

func TestWorkerPoolDefaultName(t *testing.T) {
	pool, err := NewWithConfig(PoolConfig{Size: 1})
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	defer func() { _ = pool.Close() }()

	if pool.Name() != "pool" {
		t.Errorf("expected default name 'pool', got %s", pool.Name())
	}
}

func TestWorkerPoolSubmit(t *testing.T) {
	pool, err := New(2)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = pool.Close() }()

	var counter atomic.Int32
	for range 10 {
		if err := pool.Submit(func() { counter.Add(1) }); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	if !waitFor(t, time.Second, func() bool { return counter.Load() == 10 }) {
		t.Errorf("expected 10 jobs completed, got %d", counter.Load())
	}
}

func TestWorkerPoolExactlyOnce(t *testing.T) {
	const jobs = 1000
	pool, err := New(4)
	if err != nil {
		t.Fatal(err)
	}

	var runs [jobs]atomic.Int32
	for i := range jobs {
		if err := pool.Submit(func() { runs[i].Add(1) }); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for i := range jobs {
		if n := runs[i].Load(); n != 1 {
			t.Errorf("job %d executed %d times", i, n)
		}
	}

	stats := pool.Stats()
	if stats.Submitted != jobs || stats.Completed != jobs {
		t.Errorf("expected %d submitted and completed, got %d/%d", jobs, stats.Submitted, stats.Completed)
	}
}

func TestWorkerPoolConcurrencyBound(t *testing.T) {
	const size = 3
	pool, err := New(size)
	if err != nil {
		t.Fatal(err)
	}

	var running, maxRunning atomic.Int32
	for range 50 {
		_ = pool.Submit(func() {
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}

	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}

	if maxRunning.Load() > size {
		t.Errorf("expected at most %d concurrent jobs, observed %d", size, maxRunning.Load())
	}
	if maxRunning.Load() == 0 {
		t.Error("expected jobs to run")
	}
}

func TestWorkerPoolLongJobDoesNotBlockOthers(t *testing.T) {
	const unit = 100 * time.Millisecond
	pool, err := New(4)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = pool.Close() }()

	sleeperDone := make(chan struct{})
	_ = pool.Submit(func() {
		time.Sleep(5 * unit)
		close(sleeperDone)
	})

	var counter atomic.Int32
	start := time.Now()
	for range 3 {
		_ = pool.Submit(func() { counter.Add(1) })
	}

	if !waitFor(t, 2*unit, func() bool { return counter.Load() == 3 }) {
		t.Fatalf("expected 3 counter jobs to finish, got %d", counter.Load())
	}
	if elapsed := time.Since(start); elapsed >= 5*unit {
		t.Errorf("counter jobs took %v, expected well under %v", elapsed, 5*unit)
	}

	select {
	case <-sleeperDone:
		t.Error("sleeping job should still be running")
	default:
	}
}

func TestWorkerPoolPanicRecovery(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe()

	pool, err := NewWithConfig(PoolConfig{Size: 1, Name: "panic-test", Events: bus})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = pool.Close() }()

	_ = pool.Submit(func() { panic("boom") })

	var counter atomic.Int32
	for range 5 {
		if err := pool.Submit(func() { counter.Add(1) }); err != nil {
			t.Fatalf("Submit after panic failed: %v", err)
		}
	}

	if !waitFor(t, time.Second, func() bool { return counter.Load() == 5 }) {
		t.Fatalf("expected 5 jobs after panic, got %d", counter.Load())
	}

	stats := pool.Stats()
	if stats.Panicked != 1 {
		t.Errorf("expected 1 panicked job, got %d", stats.Panicked)
	}
	if stats.Alive != 1 {
		t.Errorf("expected worker to survive panic, alive=%d", stats.Alive)
	}

	found := false
	timeout := time.After(time.Second)
	for !found {
		select {
		case ev := <-sub:
			if ev.Type == events.EventJobPanicked {
				found = true
				if ev.Data.Error != "boom" {
					t.Errorf("expected panic message 'boom', got %q", ev.Data.Error)
				}
			}
		case <-timeout:
			t.Fatal("timeout waiting for job_panicked event")
		}
	}
}

func TestWorkerPoolGoexitRecovery(t *testing.T) {
	pool, err := New(2)
	if err != nil {
		t.Fatal(err)
	}

	for range 3 {
		_ = pool.Submit(func() { runtime.Goexit() })
	}
	if !waitFor(t, time.Second, func() bool { return pool.Stats().Panicked == 3 }) {
		t.Fatalf("expected 3 aborted jobs, got %d", pool.Stats().Panicked)
	}

	stats := pool.Stats()
	if stats.Alive != 2 {
		t.Errorf("expected pool to keep 2 workers after Goexit, alive=%d", stats.Alive)
	}
	if stats.Completed != 0 {
		t.Errorf("expected Goexit jobs not to count as completed, got %d", stats.Completed)
	}

	var counter atomic.Int32
	for range 10 {
		if err := pool.Submit(func() { counter.Add(1) }); err != nil {
			t.Fatalf("Submit after Goexit failed: %v", err)
		}
	}
	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}

	if counter.Load() != 10 {
		t.Errorf("expected 10 jobs after Goexit, got %d", counter.Load())
	}
	if got := pool.Stats().Alive; got != 0 {
		t.Errorf("expected all workers joined, alive=%d", got)
	}
}

func TestWorkerPoolStatsNeverCompletedAhead(t *testing.T) {
	pool, err := New(4)
	if err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	var bad atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := pool.Stats()
			if s.Completed+s.Panicked > s.Submitted {
				bad.Add(1)
			}
		}
	}()

	for range 2000 {
		_ = pool.Submit(func() {})
	}
	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}
	close(stop)
	wg.Wait()

	if bad.Load() != 0 {
		t.Errorf("observed %d snapshots with Completed+Panicked > Submitted", bad.Load())
	}
	if s := pool.Stats(); s.Submitted != 2000 || s.Completed != 2000 {
		t.Errorf("expected 2000 submitted and completed, got %d/%d", s.Submitted, s.Completed)
	}
}

func TestWorkerPoolPanicWithError(t *testing.T) {
	pool, err := New(2)
	if err != nil {
		t.Fatal(err)
	}

	for range 4 {
		_ = pool.Submit(func() { panic(errors.New("bad job")) })
	}
	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}

	if got := pool.Stats().Panicked; got != 4 {
		t.Errorf("expected 4 panicked jobs, got %d", got)
	}
}

func TestWorkerPoolRoundTrip(t *testing.T) {
	pool, err := New(2)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = pool.Close() }()

	var mu sync.Mutex
	var cell []int

	if err := pool.Submit(func() {
		mu.Lock()
		cell = append(cell, 42)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	ok := waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(cell) > 0
	})
	if !ok {
		t.Fatal("timeout waiting for cell to be written")
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(cell) != 1 || cell[0] != 42 {
		t.Errorf("expected cell to hold [42], got %v", cell)
	}
}

func TestWorkerPoolFIFOWithSingleWorker(t *testing.T) {
	pool, err := New(1)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var order []int
	for i := range 100 {
		_ = pool.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("expected job %d at position %d, got %d", i, i, v)
		}
	}
}

func TestWorkerPoolSubmitNil(t *testing.T) {
	pool, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = pool.Close() }()

	if err := pool.Submit(nil); !errors.Is(err, ErrNilJob) {
		t.Errorf("expected ErrNilJob, got %v", err)
	}
}

func TestWorkerPoolSubmitAfterShutdown(t *testing.T) {
	pool, err := New(2)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}

	ran := false
	err = pool.Submit(func() { ran = true })
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
	if ran {
		t.Error("job must not run after shutdown")
	}

	stats := pool.Stats()
	if stats.Rejected != 1 {
		t.Errorf("expected 1 rejected job, got %d", stats.Rejected)
	}
	if stats.Submitted != 0 {
		t.Errorf("expected rejected job not to count as submitted, got %d", stats.Submitted)
	}
	if !stats.Closed || !pool.IsClosed() {
		t.Error("expected pool to report closed")
	}
	if stats.Alive != 0 {
		t.Errorf("expected all workers joined, alive=%d", stats.Alive)
	}
}

func TestWorkerPoolShutdownDrain(t *testing.T) {
	pool, err := New(1)
	if err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	_ = pool.Submit(func() { <-gate })

	var counter atomic.Int32
	for range 10 {
		_ = pool.Submit(func() { counter.Add(1) })
	}

	done := make(chan error, 1)
	go func() { done <- pool.Shutdown(context.Background(), ShutdownDrain) }()

	if !waitFor(t, time.Second, pool.IsClosed) {
		t.Fatal("expected pool to close intake")
	}
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if counter.Load() != 10 {
		t.Errorf("expected 10 queued jobs drained, got %d", counter.Load())
	}
}

func TestWorkerPoolShutdownDiscard(t *testing.T) {
	pool, err := New(1)
	if err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	started := make(chan struct{})
	_ = pool.Submit(func() {
		close(started)
		<-gate
	})
	<-started

	var counter atomic.Int32
	for range 10 {
		_ = pool.Submit(func() { counter.Add(1) })
	}

	done := make(chan error, 1)
	go func() { done <- pool.Shutdown(context.Background(), ShutdownDiscard) }()

	if !waitFor(t, time.Second, pool.IsClosed) {
		t.Fatal("expected pool to close intake")
	}
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if counter.Load() != 0 {
		t.Errorf("expected queued jobs to be discarded, %d ran", counter.Load())
	}
	if got := pool.Stats().Discarded; got != 10 {
		t.Errorf("expected 10 discarded jobs, got %d", got)
	}
}

func TestWorkerPoolShutdownTimeout(t *testing.T) {
	pool, err := New(1)
	if err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	_ = pool.Submit(func() { <-gate })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := pool.Shutdown(ctx, ShutdownDrain); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}

	close(gate)

	select {
	case <-pool.Done():
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after blocking job finished")
	}

	if err := pool.Close(); err != nil {
		t.Errorf("expected repeated shutdown to succeed, got %v", err)
	}
}

func TestWorkerPoolConcurrentShutdown(t *testing.T) {
	pool, err := New(4)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if alive := pool.Stats().Alive; alive != 0 {
		t.Errorf("expected 0 alive workers, got %d", alive)
	}
}

func TestWorkerPoolConcurrentSubmit(t *testing.T) {
	pool, err := New(4)
	if err != nil {
		t.Fatal(err)
	}

	var counter atomic.Int32
	const numGoroutines = 10
	const jobsPerGoroutine = 100

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobsPerGoroutine {
				if err := pool.Submit(func() { counter.Add(1) }); err != nil {
					t.Errorf("Submit failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}

	expected := int32(numGoroutines * jobsPerGoroutine)
	if counter.Load() != expected {
		t.Errorf("expected %d jobs completed, got %d", expected, counter.Load())
	}
}

func TestWorkerPoolQueueSize(t *testing.T) {
	pool, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = pool.Close() }()

	if pool.QueueSize() != 0 {
		t.Errorf("expected queue size 0, got %d", pool.QueueSize())
	}

	gate := make(chan struct{})
	started := make(chan struct{})
	_ = pool.Submit(func() {
		close(started)
		<-gate
	})
	<-started

	for range 3 {
		_ = pool.Submit(func() {})
	}
	if pool.QueueSize() != 3 {
		t.Errorf("expected queue size 3, got %d", pool.QueueSize())
	}
	if active := pool.Stats().Active; active != 1 {
		t.Errorf("expected 1 active job, got %d", active)
	}
	close(gate)
}

type countingObserver struct {
	submitted, rejected, started, finished, panicked, discarded atomic.Int32
}

func (o *countingObserver) JobSubmitted()       { o.submitted.Add(1) }
func (o *countingObserver) JobRejected()        { o.rejected.Add(1) }
func (o *countingObserver) JobStarted(int)      { o.started.Add(1) }
func (o *countingObserver) JobsDiscarded(n int) { o.discarded.Add(int32(n)) }
func (o *countingObserver) JobFinished(_ int, _ time.Duration, panicked bool) {
	o.finished.Add(1)
	if panicked {
		o.panicked.Add(1)
	}
}

func TestWorkerPoolObserver(t *testing.T) {
	obs := &countingObserver{}
	pool, err := NewWithConfig(PoolConfig{Size: 2, Observer: obs})
	if err != nil {
		t.Fatal(err)
	}

	for range 5 {
		_ = pool.Submit(func() {})
	}
	_ = pool.Submit(func() { panic("observed") })

	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}
	_ = pool.Submit(func() {})

	if obs.submitted.Load() != 6 {
		t.Errorf("expected 6 submitted, got %d", obs.submitted.Load())
	}
	if obs.started.Load() != 6 || obs.finished.Load() != 6 {
		t.Errorf("expected 6 started/finished, got %d/%d", obs.started.Load(), obs.finished.Load())
	}
	if obs.panicked.Load() != 1 {
		t.Errorf("expected 1 panicked, got %d", obs.panicked.Load())
	}
	if obs.rejected.Load() != 1 {
		t.Errorf("expected 1 rejected, got %d", obs.rejected.Load())
	}
}

func TestParseShutdownMode(t *testing.T) {
	tests := []struct {
		input    string
		expected ShutdownMode
		hasError bool
	}{
		{"", ShutdownDrain, false},
		{"drain", ShutdownDrain, false},
		{"DISCARD", ShutdownDiscard, false},
		{"abort", ShutdownDrain, true},
	}

	for _, tt := range tests {
		mode, err := ParseShutdownMode(tt.input)
		if tt.hasError {
			if err == nil {
				t.Errorf("expected error for %q", tt.input)
			}
			continue
		}
		if err != nil || mode != tt.expected {
			t.Errorf("ParseShutdownMode(%q) = %v, %v; want %v", tt.input, mode, err, tt.expected)
		}
	}

	if ShutdownDiscard.String() != "discard" || ShutdownMode(9).String() != "unknown" {
		t.Error("unexpected ShutdownMode.String output")
	}
}
