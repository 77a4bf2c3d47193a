package scenario

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"poolserve/internal/chaos"
	"poolserve/internal/client"
	"poolserve/internal/events"
	"poolserve/internal/logger"
	"poolserve/internal/metrics"
	"poolserve/internal/server"
	"poolserve/internal/worker"
)

const component = "bench"

// teardownTimeout はプール停止を待つ上限
const teardownTimeout = 5 * time.Second

// Config はシナリオの設定
type Config struct {
	Name        string        // シナリオ名
	Description string        // 説明
	Duration    time.Duration // 実行時間
	PoolSize    int           // サーバー側のワーカー数

	// クライアント設定
	ClientWorkers int           // ワーカー数
	SlowRatio     float64       // /sleep の比率
	NotFoundRatio float64       // 存在しないパスの比率
	SlowDelay     time.Duration // /sleep の待ち時間

	// カオス設定
	EnableChaos   bool               // カオス注入を有効化
	ChaosInterval time.Duration      // 攻撃間隔
	ChaosTargets  int                // 1回の攻撃で投入するジョブ数
	AttackTypes   []chaos.AttackType // 有効な攻撃タイプ
	StallDuration time.Duration      // Stall攻撃の占有時間
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:          "default",
		Description:   "Default scenario",
		Duration:      10 * time.Second,
		PoolSize:      4,
		ClientWorkers: 10,
		SlowRatio:     0.05,
		NotFoundRatio: 0.1,
		SlowDelay:     200 * time.Millisecond,
		EnableChaos:   true,
		ChaosInterval: 2 * time.Second,
		ChaosTargets:  1,
		AttackTypes:   []chaos.AttackType{chaos.AttackPanic, chaos.AttackStall},
		StallDuration: 500 * time.Millisecond,
	}
}

// Result はシナリオ実行結果
type Result struct {
	ScenarioName string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration

	// メトリクス
	TotalRequests   uint64
	SuccessRequests uint64
	FailedRequests  uint64
	ErrorRate       float64
	AvgLatency      time.Duration
	P99Latency      time.Duration

	// カオス統計
	TotalAttacks   uint64
	InjectedFaults map[string]uint64

	// プール状態
	// WorkersAlive は停止前に観測した生存ワーカー数
	WorkersAlive int
	Pool         worker.Stats
}

// Engine はシナリオ実行エンジン
type Engine struct {
	config   Config
	eventBus *events.Bus
	observer worker.Observer

	docRoot  string
	pool     *worker.Pool
	server   *server.Server
	serveErr chan error
	client   *client.Client
	monkey   *chaos.Monkey

	mu      sync.RWMutex
	running bool
}

// New は新しいEngineを作成する
func New(config Config) *Engine {
	return &Engine{
		config: config,
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// SetObserver はサーバー側プールのオブザーバーを設定する
func (e *Engine) SetObserver(observer worker.Observer) {
	e.observer = observer
}

// Run はシナリオを実行する
// 結果が得られた場合でも、後片付けの失敗はエラーとして合わせて返す
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("scenario is already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	logger.Info(component, "=== Scenario '%s' started ===", e.config.Name)
	logger.Info(component, "Description: %s", e.config.Description)

	result := &Result{
		ScenarioName: e.config.Name,
		StartTime:    time.Now(),
	}

	// セットアップ
	e.mu.Lock()
	err := e.setup()
	e.mu.Unlock()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("setup failed: %w", err), e.teardown())
	}

	// シナリオ実行
	scenarioCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	defer cancel()

	e.runScenario(scenarioCtx)

	// panic があってもワーカー数が変わらないことを停止前に確認する
	result.WorkersAlive = e.pool.Stats().Alive

	err = e.teardown()

	// 結果収集
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	e.collectResults(result)

	logger.Info(component, "=== Scenario '%s' completed ===", e.config.Name)

	return result, err
}

// setup はシナリオ実行前のセットアップ
func (e *Engine) setup() error {
	// ページ置き場
	dir, err := os.MkdirTemp("", "poolserve-bench-*")
	if err != nil {
		return fmt.Errorf("failed to create document root: %w", err)
	}
	e.docRoot = dir
	if err := server.WriteDefaultPages(dir); err != nil {
		return err
	}

	// プール
	pool, err := worker.NewWithConfig(worker.PoolConfig{
		Size:     e.config.PoolSize,
		Name:     "pool",
		Observer: e.observer,
		Events:   e.eventBus,
	})
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	e.pool = pool

	// サーバー
	e.server = server.New(server.Config{
		Addr:      "127.0.0.1:0",
		DocRoot:   dir,
		SlowDelay: e.config.SlowDelay,
	}, pool)
	if err := e.server.Listen(); err != nil {
		return err
	}

	// クライアント
	clientConfig := client.DefaultConfig()
	clientConfig.NumWorkers = e.config.ClientWorkers
	clientConfig.Addr = e.server.Addr().String()
	clientConfig.SlowRatio = e.config.SlowRatio
	clientConfig.NotFoundRatio = e.config.NotFoundRatio
	cl, err := client.New(clientConfig)
	if err != nil {
		return err
	}
	e.client = cl

	// カオスモンキー
	if e.config.EnableChaos {
		chaosConfig := chaos.DefaultConfig()
		chaosConfig.Interval = e.config.ChaosInterval
		chaosConfig.TargetCount = e.config.ChaosTargets
		chaosConfig.AttackTypes = e.config.AttackTypes
		if e.config.StallDuration > 0 {
			chaosConfig.StallDuration = e.config.StallDuration
		}
		e.monkey = chaos.New(pool, chaosConfig)
		if e.eventBus != nil {
			e.monkey.SetEventBus(e.eventBus)
		}
	}

	return nil
}

// runScenario はシナリオのメイン処理
func (e *Engine) runScenario(ctx context.Context) {
	// サーバーはクライアントが止まってから teardown で閉じる
	e.serveErr = make(chan error, 1)
	go func() {
		e.serveErr <- e.server.Serve(context.Background())
	}()

	// クライアント開始
	e.client.Start(ctx)

	// カオス開始
	if e.monkey != nil {
		e.monkey.Start(ctx)
	}

	// 終了まで待機
	<-ctx.Done()

	logger.Info(component, "Scenario duration completed, stopping components...")
}

// teardown はシナリオ実行後のクリーンアップ
// 負荷とカオスを止めてからサーバー、プールの順に停止する
func (e *Engine) teardown() error {
	var err error

	if e.client != nil {
		err = multierr.Append(err, e.client.Close())
	}
	if e.monkey != nil {
		e.monkey.Stop()
	}
	if e.server != nil {
		err = multierr.Append(err, e.server.Close())
		if e.serveErr != nil {
			err = multierr.Append(err, <-e.serveErr)
		}
	}
	if e.pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		if shutdownErr := e.pool.Shutdown(ctx, worker.ShutdownDiscard); shutdownErr != nil {
			err = multierr.Append(err, fmt.Errorf("pool shutdown: %w", shutdownErr))
		}
		cancel()
	}
	if e.docRoot != "" {
		err = multierr.Append(err, os.RemoveAll(e.docRoot))
	}

	return err
}

// collectResults は結果を収集する
func (e *Engine) collectResults(result *Result) {
	// メトリクススナップショット
	snapshot := e.client.Metrics().Snapshot()
	result.TotalRequests = snapshot.TotalRequests
	result.SuccessRequests = snapshot.SuccessRequests
	result.FailedRequests = snapshot.FailedRequests
	result.ErrorRate = snapshot.ErrorRate
	result.AvgLatency = snapshot.AverageLatency
	result.P99Latency = snapshot.P99Latency

	// カオス統計
	if e.monkey != nil {
		stats := e.monkey.Stats()
		result.TotalAttacks = stats.TotalAttacks
		result.InjectedFaults = stats.ByType
	}

	result.Pool = e.pool.Stats()
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	report := fmt.Sprintf(`
================================================================================
                         SCENARIO REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Start Time:     %s
  End Time:       %s
  Duration:       %v

TRAFFIC METRICS
---------------
  Total Requests:   %d
  Success:          %d
  Failed:           %d
  Error Rate:       %.2f%%
  Avg Latency:      %v
  P99 Latency:      %v

POOL STATISTICS
---------------
  Workers:          %d
  Workers Alive:    %d
  Jobs Submitted:   %d
  Jobs Completed:   %d
  Jobs Panicked:    %d
  Jobs Discarded:   %d

CHAOS STATISTICS
----------------
  Total Attacks:    %d
`,
		r.ScenarioName,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.TotalRequests,
		r.SuccessRequests,
		r.FailedRequests,
		r.ErrorRate*100,
		r.AvgLatency.Round(time.Microsecond),
		r.P99Latency.Round(time.Microsecond),
		r.Pool.Size,
		r.WorkersAlive,
		r.Pool.Submitted,
		r.Pool.Completed,
		r.Pool.Panicked,
		r.Pool.Discarded,
		r.TotalAttacks,
	)

	types := make([]string, 0, len(r.InjectedFaults))
	for t := range r.InjectedFaults {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		report += fmt.Sprintf("  %-18s%d\n", t+":", r.InjectedFaults[t])
	}

	report += "\n================================================================================"

	return report
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// ChaosStats はカオス統計を返す
func (e *Engine) ChaosStats() *chaos.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.monkey == nil {
		return nil
	}
	stats := e.monkey.Stats()
	return &stats
}

// Metrics はクライアントメトリクスを返す
func (e *Engine) Metrics() *metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.client == nil {
		return nil
	}
	snapshot := e.client.Metrics().Snapshot()
	return &snapshot
}

// Stats はサーバー側プールの状態を返す（実行前はゼロ値）
func (e *Engine) Stats() worker.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pool == nil {
		return worker.Stats{Name: e.config.Name}
	}
	return e.pool.Stats()
}

// Pool はサーバー側のプールを返す
func (e *Engine) Pool() *worker.Pool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pool
}
