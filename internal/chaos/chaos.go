package chaos

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"poolserve/internal/events"
	"poolserve/internal/logger"
	"poolserve/internal/worker"
)

const component = "chaos"

// AttackType は障害の種類を表す
type AttackType int

const (
	// AttackPanic はジョブの中で panic する
	AttackPanic AttackType = iota
	// AttackStall はジョブの中でワーカーを一定時間占有する
	AttackStall
)

func (a AttackType) String() string {
	switch a {
	case AttackPanic:
		return "panic"
	case AttackStall:
		return "stall"
	default:
		return "unknown"
	}
}

// ParseAttackType は文字列から攻撃タイプを解析する
func ParseAttackType(s string) (AttackType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "panic":
		return AttackPanic, nil
	case "stall":
		return AttackStall, nil
	default:
		return 0, fmt.Errorf("unknown attack type: %s", s)
	}
}

// Target は障害ジョブを受け付けるプール
type Target interface {
	Submit(job worker.Job) error
	Name() string
}

// Config はChaosMonkeyの設定
type Config struct {
	Interval      time.Duration // 攻撃間隔
	TargetCount   int           // 1回の攻撃で投入するジョブ数
	AttackTypes   []AttackType  // 有効な攻撃タイプ
	StallDuration time.Duration // Stall攻撃でワーカーを占有する時間
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Second,
		TargetCount:   1,
		AttackTypes:   []AttackType{AttackPanic, AttackStall},
		StallDuration: 500 * time.Millisecond,
	}
}

// Stats はカオス攻撃の統計情報
type Stats struct {
	TotalAttacks uint64            `json:"total_attacks"`
	Injected     uint64            `json:"injected"`
	Rejected     uint64            `json:"rejected"`
	ByType       map[string]uint64 `json:"attacks_by_type"`
}

// Monkey は定期的にプールへ障害ジョブを投入する
type Monkey struct {
	config   Config
	target   Target
	eventBus *events.Bus

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu           sync.RWMutex
	attackCount  uint64
	injected     uint64
	rejected     uint64
	attackByType map[AttackType]uint64
	lastAttack   time.Time
}

// New は新しいChaosMonkeyを作成する
func New(target Target, config Config) *Monkey {
	if config.TargetCount <= 0 {
		config.TargetCount = 1
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Monkey{
		config:       config,
		target:       target,
		attackByType: make(map[AttackType]uint64),
	}
}

// SetEventBus はイベントバスを設定する
func (m *Monkey) SetEventBus(bus *events.Bus) {
	m.eventBus = bus
}

// Start はカオス注入を開始する
func (m *Monkey) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.attackLoop(ctx)

	logger.Info(component, "ChaosMonkey started (interval: %v, targets: %d)",
		m.config.Interval, m.config.TargetCount)
}

// Stop はカオス注入を停止する
// 投入済みのジョブはプール側で実行される
func (m *Monkey) Stop() {
	if !m.running.Swap(false) {
		return
	}

	m.cancel()
	m.wg.Wait()

	logger.Info(component, "ChaosMonkey stopped (total attacks: %d)", m.AttackCount())
}

// attackLoop は定期的に攻撃を実行する
func (m *Monkey) attackLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Attack(); err != nil {
				logger.Warn(component, "attack aborted: %v", err)
			}
		}
	}
}

// Attack は1回分の攻撃を実行する
// 攻撃タイプを1つ選び、TargetCount 個の障害ジョブを投入する
func (m *Monkey) Attack() error {
	attackType := m.selectAttackType()

	var injected uint64
	var err error
	for range m.config.TargetCount {
		if err = m.target.Submit(m.faultJob(attackType)); err != nil {
			break
		}
		injected++
		m.publishFault(attackType)
	}

	m.mu.Lock()
	m.injected += injected
	m.attackByType[attackType] += injected
	if err != nil {
		m.rejected++
	}
	if injected > 0 {
		m.attackCount++
		m.lastAttack = time.Now()
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("inject %s: %w", attackType, err)
	}
	logger.Warn(component, "ChaosMonkey: injected %d %s job(s) into %s", injected, attackType, m.target.Name())
	return nil
}

// selectAttackType は攻撃タイプをランダムに選択する
func (m *Monkey) selectAttackType() AttackType {
	if len(m.config.AttackTypes) == 0 {
		return AttackPanic
	}
	return m.config.AttackTypes[rand.Intn(len(m.config.AttackTypes))]
}

// faultJob は攻撃タイプに応じたジョブを作る
func (m *Monkey) faultJob(attackType AttackType) worker.Job {
	switch attackType {
	case AttackStall:
		stall := m.config.StallDuration
		return func() {
			time.Sleep(stall)
		}
	default:
		return func() {
			panic("chaos: injected panic")
		}
	}
}

func (m *Monkey) publishFault(attackType AttackType) {
	if m.eventBus == nil {
		return
	}
	switch attackType {
	case AttackStall:
		m.eventBus.Publish(events.NewStallInjectedEvent(m.target.Name(), m.config.StallDuration))
	default:
		m.eventBus.Publish(events.NewFaultInjectedEvent(m.target.Name(), events.FaultTypePanic))
	}
}

// IsRunning は実行中かどうかを返す
func (m *Monkey) IsRunning() bool {
	return m.running.Load()
}

// AttackCount は1つ以上のジョブを投入できた攻撃の回数を返す
func (m *Monkey) AttackCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attackCount
}

// LastAttack は最後に攻撃した時刻を返す
func (m *Monkey) LastAttack() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAttack
}

// Stats は攻撃統計を返す
func (m *Monkey) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[string]uint64)
	for t, count := range m.attackByType {
		byType[t.String()] = count
	}

	return Stats{
		TotalAttacks: m.attackCount,
		Injected:     m.injected,
		Rejected:     m.rejected,
		ByType:       byType,
	}
}
