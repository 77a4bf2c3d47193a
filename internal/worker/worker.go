package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"poolserve/internal/events"
	"poolserve/internal/logger"
)

var (
	// ErrInvalidSize はワーカー数が0以下のときに返される
	ErrInvalidSize = errors.New("worker: pool size must be greater than zero")
	// ErrPoolClosed はシャットダウン後の Submit で返される
	ErrPoolClosed = errors.New("worker: pool is closed")
	// ErrNilJob は nil ジョブの Submit で返される
	ErrNilJob = errors.New("worker: job must not be nil")

	errGoexit = errors.New("runtime.Goexit called")
)

// Job はワーカーが一度だけ実行するジョブを表す
type Job func()

// ShutdownMode はシャットダウン時にキューに残ったジョブの扱い
type ShutdownMode int

const (
	// ShutdownDrain はキューに残ったジョブを全て実行してから停止する
	ShutdownDrain ShutdownMode = iota
	// ShutdownDiscard はキューに残ったジョブを破棄する（実行中のジョブは完了を待つ）
	ShutdownDiscard
)

func (m ShutdownMode) String() string {
	switch m {
	case ShutdownDrain:
		return "drain"
	case ShutdownDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// ParseShutdownMode は文字列からシャットダウンモードを解析する
func ParseShutdownMode(s string) (ShutdownMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drain":
		return ShutdownDrain, nil
	case "discard":
		return ShutdownDiscard, nil
	default:
		return ShutdownDrain, fmt.Errorf("unknown shutdown mode: %s", s)
	}
}

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	Size     int         // ワーカー数（1以上）
	Name     string      // ログとイベントに使う名前
	Observer Observer    // ジョブのライフサイクル通知先（nil可）
	Events   *events.Bus // イベントバス（nil可）
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size: runtime.NumCPU(),
		Name: "pool",
	}
}

// Stats はプールの状態のスナップショット
type Stats struct {
	Name      string `json:"name"`
	Size      int    `json:"size"`
	Alive     int    `json:"alive"`
	Active    int    `json:"active"`
	Queued    int    `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Panicked  uint64 `json:"panicked"`
	Rejected  uint64 `json:"rejected"`
	Discarded uint64 `json:"discarded"`
	Closed    bool   `json:"closed"`
}

// worker は1つのワーカーゴルーチンのハンドル
type worker struct {
	id   int
	name string
	done chan struct{}
}

// Pool は固定数のワーカーゴルーチンを管理する
type Pool struct {
	name     string
	queue    *queue
	workers  []*worker
	observer Observer
	eventBus *events.Bus

	alive     atomic.Int32
	active    atomic.Int32
	submitted atomic.Uint64
	completed atomic.Uint64
	panicked  atomic.Uint64
	rejected  atomic.Uint64
	discarded atomic.Uint64

	shutdownOnce sync.Once
	stopped      chan struct{}
}

// New は size 個のワーカーを持つプールを作成し起動する
// size が0以下なら ErrInvalidSize を返し、ゴルーチンは起動しない
func New(size int) (*Pool, error) {
	config := DefaultPoolConfig()
	config.Size = size
	return NewWithConfig(config)
}

// NewWithConfig は設定を指定してプールを作成し起動する
// 戻った時点で全ワーカーが起動済みで最初のジョブを待っている
func NewWithConfig(config PoolConfig) (*Pool, error) {
	if config.Size <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidSize, config.Size)
	}
	if config.Name == "" {
		config.Name = "pool"
	}
	observer := config.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	p := &Pool{
		name:     config.Name,
		queue:    newQueue(),
		workers:  make([]*worker, config.Size),
		observer: observer,
		eventBus: config.Events,
		stopped:  make(chan struct{}),
	}

	var ready sync.WaitGroup
	ready.Add(config.Size)
	for i := range config.Size {
		w := &worker{
			id:   i,
			name: fmt.Sprintf("%s/worker-%d", p.name, i),
			done: make(chan struct{}),
		}
		p.workers[i] = w
		p.alive.Add(1)
		go p.run(w, &ready)
	}
	ready.Wait()

	logger.Info(p.name, "WorkerPool started with %d workers", config.Size)
	p.eventBus.Publish(events.NewPoolStartedEvent(p.name, config.Size))

	return p, nil
}

// run は個々のワーカーのループ
// Idle → Dequeuing → Executing → Idle を繰り返し、キューがクローズされ空になったら終了する
// ジョブが runtime.Goexit でゴルーチンごと抜けた場合は、同じワーカーを新しいゴルーチンで続ける
func (p *Pool) run(w *worker, ready *sync.WaitGroup) {
	if ready != nil {
		ready.Done()
	}

	stopped := false
	defer func() {
		if !stopped {
			go p.run(w, nil)
			return
		}
		p.alive.Add(-1)
		close(w.done)
	}()

	for {
		job, ok := p.queue.pop()
		if !ok {
			stopped = true
			logger.Debug(w.name, "stopped")
			return
		}
		p.execute(w, job)
	}
}

// execute はジョブを実行する
// ジョブ内の panic はここで回収し、ワーカーはそのまま次のジョブに戻る
func (p *Pool) execute(w *worker, job Job) {
	p.active.Add(1)
	p.observer.JobStarted(w.id)
	start := time.Now()
	panicked := false
	finished := false

	defer func() {
		r := recover()
		switch {
		case r != nil:
			panicked = true
			p.panicked.Add(1)
			logger.Error(w.name, "job panicked: %v\n%s", r, debug.Stack())
			p.eventBus.Publish(events.NewJobPanickedEvent(p.name, w.id, r))
		case !finished:
			// recover できない runtime.Goexit も異常終了として数える
			panicked = true
			p.panicked.Add(1)
			logger.Error(w.name, "job exited via runtime.Goexit")
			p.eventBus.Publish(events.NewJobPanickedEvent(p.name, w.id, errGoexit))
		default:
			p.completed.Add(1)
		}
		p.active.Add(-1)
		p.observer.JobFinished(w.id, time.Since(start), panicked)
	}()

	job()
	finished = true
}

// Submit はジョブをキューに入れてすぐに戻る
// シャットダウン後は ErrPoolClosed を返し、ジョブは実行されない
func (p *Pool) Submit(job Job) error {
	if job == nil {
		return ErrNilJob
	}

	// 完了数が受付数を追い越して見えないよう、先に数えて拒否なら戻す
	p.submitted.Add(1)
	if err := p.queue.push(job); err != nil {
		p.submitted.Add(^uint64(0))
		p.rejected.Add(1)
		p.observer.JobRejected()
		p.eventBus.Publish(events.NewJobRejectedEvent(p.name, err))
		return err
	}

	p.observer.JobSubmitted()
	return nil
}

// Shutdown はプールを停止する
// 新しいジョブの受付を止め、mode に従ってキューを処理し、全ワーカーの終了を待つ。
// ctx が先に終わった場合は ctx.Err() を返すが、ワーカーは現在のジョブの後に停止する。
// 2回目以降の呼び出しは最初の停止処理の完了を待つだけで、mode は無視される。
// ジョブの中から呼ぶとデッドロックするので、ジョブ内では呼ばないこと。
func (p *Pool) Shutdown(ctx context.Context, mode ShutdownMode) error {
	p.shutdownOnce.Do(func() {
		go p.teardown(mode)
	})

	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close は ShutdownDrain で停止し、完了まで待つ
func (p *Pool) Close() error {
	return p.Shutdown(context.Background(), ShutdownDrain)
}

// teardown は送信側を閉じ、全ワーカーを join する
func (p *Pool) teardown(mode ShutdownMode) {
	logger.Info(p.name, "WorkerPool stopping (mode: %s, queued: %d)", mode, p.queue.len())

	discarded := p.queue.close(mode == ShutdownDiscard)
	if discarded > 0 {
		p.discarded.Add(uint64(discarded))
		p.observer.JobsDiscarded(discarded)
		logger.Warn(p.name, "discarded %d queued jobs", discarded)
	}

	for _, w := range p.workers {
		<-w.done
	}

	logger.Info(p.name, "WorkerPool stopped")
	p.eventBus.Publish(events.NewPoolStoppedEvent(p.name, discarded))
	close(p.stopped)
}

// Done はプールの停止が完了したら閉じられるチャネルを返す
func (p *Pool) Done() <-chan struct{} {
	return p.stopped
}

// Name はプール名を返す
func (p *Pool) Name() string {
	return p.name
}

// Size はワーカー数を返す
func (p *Pool) Size() int {
	return len(p.workers)
}

// QueueSize は現在のキューサイズを返す
func (p *Pool) QueueSize() int {
	return p.queue.len()
}

// IsClosed は受付を停止しているかどうかを返す
func (p *Pool) IsClosed() bool {
	return p.queue.isClosed()
}

// Stats は現在の状態を返す
// 完了数と panic 数を先に読むので Completed+Panicked <= Submitted が常に成り立つ
func (p *Pool) Stats() Stats {
	completed := p.completed.Load()
	panicked := p.panicked.Load()
	return Stats{
		Name:      p.name,
		Size:      len(p.workers),
		Alive:     int(p.alive.Load()),
		Active:    int(p.active.Load()),
		Queued:    p.queue.len(),
		Submitted: p.submitted.Load(),
		Completed: completed,
		Panicked:  panicked,
		Rejected:  p.rejected.Load(),
		Discarded: p.discarded.Load(),
		Closed:    p.queue.isClosed(),
	}
}
