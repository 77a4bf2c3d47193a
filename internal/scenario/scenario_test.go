package scenario

import (
	"context"
	"strings"
	"testing"
	"time"

	"poolserve/internal/chaos"
	"poolserve/internal/events"
	"poolserve/internal/worker"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Name != "default" {
		t.Errorf("expected name 'default', got '%s'", config.Name)
	}
	if config.PoolSize != 4 {
		t.Errorf("expected pool size 4, got %d", config.PoolSize)
	}
	if !config.EnableChaos {
		t.Error("expected chaos to be enabled")
	}
}

func TestNewEngine(t *testing.T) {
	engine := New(DefaultConfig())

	if engine == nil {
		t.Fatal("expected non-nil engine")
	}
	if engine.IsRunning() {
		t.Error("expected engine to not be running initially")
	}
	if engine.Pool() != nil {
		t.Error("expected no pool before Run")
	}
	if engine.Stats().Alive != 0 {
		t.Error("expected zero stats before Run")
	}
}

func TestEngineRunBasic(t *testing.T) {
	config := BasicScenario()
	config.Duration = 1 * time.Second
	config.PoolSize = 2
	config.ClientWorkers = 2

	engine := New(config)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("failed to run scenario: %v", err)
	}

	if result.ScenarioName != "basic" {
		t.Errorf("expected scenario name 'basic', got '%s'", result.ScenarioName)
	}
	if result.TotalRequests == 0 {
		t.Error("expected some requests to be executed")
	}
	if result.FailedRequests != 0 {
		t.Errorf("expected no failed requests, got %d", result.FailedRequests)
	}
	if result.TotalAttacks != 0 {
		t.Error("expected no attacks in basic scenario")
	}
	if result.WorkersAlive != 2 {
		t.Errorf("expected 2 workers alive, got %d", result.WorkersAlive)
	}
	if !result.Pool.Closed {
		t.Error("expected pool to be closed after the run")
	}
	if result.Pool.Alive != 0 {
		t.Errorf("expected all workers joined after the run, got %d alive", result.Pool.Alive)
	}
}

func TestEngineRunWithChaos(t *testing.T) {
	config := QuickScenario()
	config.Duration = 2 * time.Second
	config.ChaosInterval = 200 * time.Millisecond
	config.AttackTypes = []chaos.AttackType{chaos.AttackPanic}

	engine := New(config)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("failed to run scenario: %v", err)
	}

	if result.TotalAttacks == 0 {
		t.Error("expected some attacks to be executed")
	}
	if result.Pool.Panicked == 0 {
		t.Error("expected injected panics to be recovered by the pool")
	}
	// panic してもワーカー数は変わらない
	if result.WorkersAlive != config.PoolSize {
		t.Errorf("expected %d workers alive, got %d", config.PoolSize, result.WorkersAlive)
	}
	if result.InjectedFaults["panic"] == 0 {
		t.Error("expected panic faults in the result")
	}
}

func TestEngineRunWithStall(t *testing.T) {
	config := QuickScenario()
	config.Duration = 1 * time.Second
	config.ChaosInterval = 100 * time.Millisecond
	config.AttackTypes = []chaos.AttackType{chaos.AttackStall}
	config.StallDuration = 50 * time.Millisecond

	bus := events.NewBus()
	defer bus.Close()
	sub := bus.SubscribeWithBuffer(1024)

	engine := New(config)
	engine.SetEventBus(bus)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("failed to run scenario: %v", err)
	}
	if result.InjectedFaults["stall"] == 0 {
		t.Error("expected stall faults in the result")
	}

	seen := map[events.EventType]bool{}
	for len(sub) > 0 {
		ev := <-sub
		seen[ev.Type] = true
	}
	for _, want := range []events.EventType{events.EventPoolStarted, events.EventFaultInjected, events.EventPoolStopped} {
		if !seen[want] {
			t.Errorf("expected %s event on the bus", want)
		}
	}
}

type countingObserver struct {
	worker.Observer
	submitted chan struct{}
}

func (o *countingObserver) JobSubmitted() {
	select {
	case o.submitted <- struct{}{}:
	default:
	}
}

func TestEngineObserver(t *testing.T) {
	config := BasicScenario()
	config.Duration = 500 * time.Millisecond
	config.PoolSize = 1
	config.ClientWorkers = 1

	observer := &countingObserver{
		Observer:  nopObserver{},
		submitted: make(chan struct{}, 1),
	}

	engine := New(config)
	engine.SetObserver(observer)

	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("failed to run scenario: %v", err)
	}

	select {
	case <-observer.submitted:
	default:
		t.Error("expected the observer to see submitted jobs")
	}
}

type nopObserver struct{}

func (nopObserver) JobSubmitted()                        {}
func (nopObserver) JobRejected()                         {}
func (nopObserver) JobStarted(int)                       {}
func (nopObserver) JobFinished(int, time.Duration, bool) {}
func (nopObserver) JobsDiscarded(int)                    {}

func TestEngineRunInvalidPoolSize(t *testing.T) {
	config := BasicScenario()
	config.PoolSize = 0

	_, err := New(config).Run(context.Background())
	if err == nil {
		t.Fatal("expected error for pool size 0")
	}
	if !strings.Contains(err.Error(), "setup failed") {
		t.Errorf("expected setup error, got %v", err)
	}
}

func TestEngineDoubleRun(t *testing.T) {
	config := BasicScenario()
	config.Duration = 1 * time.Second
	config.PoolSize = 2
	config.ClientWorkers = 2

	engine := New(config)
	ctx := context.Background()

	// 最初の実行を開始
	done := make(chan struct{})
	var firstResult *Result
	var firstErr error

	go func() {
		firstResult, firstErr = engine.Run(ctx)
		close(done)
	}()

	// 少し待ってから二重実行を試みる
	time.Sleep(100 * time.Millisecond)

	_, err := engine.Run(ctx)
	if err == nil {
		t.Error("expected error when running already running scenario")
	}

	<-done
	if firstErr != nil {
		t.Errorf("first run failed: %v", firstErr)
	}
	if firstResult == nil {
		t.Error("expected first result to be non-nil")
	}
}

func TestResultReport(t *testing.T) {
	result := &Result{
		ScenarioName:    "test",
		StartTime:       time.Now(),
		EndTime:         time.Now().Add(10 * time.Second),
		Duration:        10 * time.Second,
		TotalRequests:   1000,
		SuccessRequests: 990,
		FailedRequests:  10,
		ErrorRate:       0.01,
		AvgLatency:      5 * time.Millisecond,
		P99Latency:      20 * time.Millisecond,
		TotalAttacks:    5,
		InjectedFaults:  map[string]uint64{"panic": 3, "stall": 2},
		WorkersAlive:    4,
		Pool: worker.Stats{
			Size:     4,
			Panicked: 3,
		},
	}

	report := result.Report()

	// レポートに必要な情報が含まれているか確認
	if !strings.Contains(report, "test") {
		t.Error("report should contain scenario name")
	}
	if !strings.Contains(report, "1000") {
		t.Error("report should contain total requests")
	}
	if !strings.Contains(report, "1.00%") {
		t.Error("report should contain error rate")
	}
	if !strings.Contains(report, "Workers Alive:    4") {
		t.Error("report should contain workers alive")
	}
	if !strings.Contains(report, "panic:") || !strings.Contains(report, "stall:") {
		t.Error("report should contain faults by type")
	}
}

func TestPresets(t *testing.T) {
	presets := ListPresets()

	if len(presets) != 6 {
		t.Errorf("expected 6 presets, got %d", len(presets))
	}

	for _, name := range presets {
		config, ok := GetPreset(name)
		if !ok {
			t.Errorf("failed to get preset '%s'", name)
			continue
		}
		if config.Name != name {
			t.Errorf("expected preset name '%s', got '%s'", name, config.Name)
		}
		if config.PoolSize <= 0 {
			t.Errorf("preset '%s' should have a positive pool size", name)
		}
	}
}

func TestGetPresetNotFound(t *testing.T) {
	_, ok := GetPreset("nonexistent")
	if ok {
		t.Error("expected GetPreset to return false for nonexistent preset")
	}
}

func TestBasicScenario(t *testing.T) {
	config := BasicScenario()

	if config.EnableChaos {
		t.Error("basic scenario should not enable chaos")
	}
	if config.SlowRatio != 0 {
		t.Error("basic scenario should not send slow requests")
	}
}

func TestSlowScenario(t *testing.T) {
	config := SlowScenario()

	if config.SlowRatio <= 0 {
		t.Error("slow scenario should send slow requests")
	}
	if config.EnableChaos {
		t.Error("slow scenario should not enable chaos")
	}
}

func TestFaultsScenario(t *testing.T) {
	config := FaultsScenario()

	if !config.EnableChaos {
		t.Error("faults scenario should enable chaos")
	}
	if len(config.AttackTypes) != 1 || config.AttackTypes[0] != chaos.AttackPanic {
		t.Error("faults scenario should only use panic attack")
	}
}

func TestStallScenario(t *testing.T) {
	config := StallScenario()

	if len(config.AttackTypes) != 1 || config.AttackTypes[0] != chaos.AttackStall {
		t.Error("stall scenario should only use stall attack")
	}
	if config.StallDuration <= 0 {
		t.Error("stall scenario should set a stall duration")
	}
}

func TestStressScenario(t *testing.T) {
	config := StressScenario()

	if config.ClientWorkers < 50 {
		t.Error("stress scenario should have many workers")
	}
	if len(config.AttackTypes) != 2 {
		t.Error("stress scenario should use all attack types")
	}
}

func TestQuickScenario(t *testing.T) {
	config := QuickScenario()

	if config.Duration > 10*time.Second {
		t.Error("quick scenario should be short")
	}
}

func TestEngineContextCancel(t *testing.T) {
	config := BasicScenario()
	config.Duration = 10 * time.Second
	config.PoolSize = 2
	config.ClientWorkers = 2

	engine := New(config)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var result *Result
	var err error

	go func() {
		result, err = engine.Run(ctx)
		close(done)
	}()

	// 少し待ってからキャンセル
	time.Sleep(500 * time.Millisecond)
	cancel()

	<-done

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected result to be non-nil")
	}
	if result.Duration >= config.Duration {
		t.Error("expected scenario to be cancelled early")
	}
}
