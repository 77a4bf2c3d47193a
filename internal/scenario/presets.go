package scenario

import (
	"time"

	"poolserve/internal/chaos"
)

// BasicScenario は基本的なシナリオ設定を返す
// カオス注入なし、純粋な負荷テスト
func BasicScenario() Config {
	return Config{
		Name:          "basic",
		Description:   "Basic load test without fault injection",
		Duration:      10 * time.Second,
		PoolSize:      4,
		ClientWorkers: 10,
		NotFoundRatio: 0.1,
		SlowDelay:     200 * time.Millisecond,
		EnableChaos:   false,
	}
}

// SlowScenario は /sleep を混ぜたシナリオを返す
// 長いジョブが他のワーカーを止めないことを確認する
func SlowScenario() Config {
	return Config{
		Name:          "slow",
		Description:   "Mixed traffic with slow /sleep requests",
		Duration:      10 * time.Second,
		PoolSize:      4,
		ClientWorkers: 10,
		SlowRatio:     0.2,
		NotFoundRatio: 0.1,
		SlowDelay:     500 * time.Millisecond,
		EnableChaos:   false,
	}
}

// FaultsScenario は panic 注入シナリオを返す
// panic してもワーカー数が減らないことを確認する
func FaultsScenario() Config {
	return Config{
		Name:          "faults",
		Description:   "Panicking jobs injected into the pool",
		Duration:      10 * time.Second,
		PoolSize:      4,
		ClientWorkers: 10,
		NotFoundRatio: 0.1,
		SlowDelay:     200 * time.Millisecond,
		EnableChaos:   true,
		ChaosInterval: 1 * time.Second,
		ChaosTargets:  2,
		AttackTypes:   []chaos.AttackType{chaos.AttackPanic},
	}
}

// StallScenario はワーカー占有シナリオを返す
// Stall攻撃のみ
func StallScenario() Config {
	return Config{
		Name:          "stall",
		Description:   "Long-running jobs occupying workers",
		Duration:      10 * time.Second,
		PoolSize:      4,
		ClientWorkers: 10,
		NotFoundRatio: 0.1,
		SlowDelay:     200 * time.Millisecond,
		EnableChaos:   true,
		ChaosInterval: 2 * time.Second,
		ChaosTargets:  2,
		AttackTypes:   []chaos.AttackType{chaos.AttackStall},
		StallDuration: 1 * time.Second,
	}
}

// StressScenario は高負荷シナリオを返す
// 多数のワーカー、複数の攻撃タイプ
func StressScenario() Config {
	return Config{
		Name:          "stress",
		Description:   "High load stress test with multiple attack types",
		Duration:      20 * time.Second,
		PoolSize:      8,
		ClientWorkers: 50,
		SlowRatio:     0.05,
		NotFoundRatio: 0.2,
		SlowDelay:     200 * time.Millisecond,
		EnableChaos:   true,
		ChaosInterval: 1 * time.Second,
		ChaosTargets:  3,
		AttackTypes:   []chaos.AttackType{chaos.AttackPanic, chaos.AttackStall},
		StallDuration: 500 * time.Millisecond,
	}
}

// QuickScenario はクイックテスト用シナリオを返す
// 短時間での動作確認用
func QuickScenario() Config {
	return Config{
		Name:          "quick",
		Description:   "Quick test for verification",
		Duration:      3 * time.Second,
		PoolSize:      2,
		ClientWorkers: 4,
		SlowRatio:     0.1,
		NotFoundRatio: 0.1,
		SlowDelay:     50 * time.Millisecond,
		EnableChaos:   true,
		ChaosInterval: 500 * time.Millisecond,
		ChaosTargets:  1,
		AttackTypes:   []chaos.AttackType{chaos.AttackPanic, chaos.AttackStall},
		StallDuration: 100 * time.Millisecond,
	}
}

var presets = map[string]func() Config{
	"basic":  BasicScenario,
	"slow":   SlowScenario,
	"faults": FaultsScenario,
	"stall":  StallScenario,
	"stress": StressScenario,
	"quick":  QuickScenario,
}

// GetPreset は名前からプリセットシナリオを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	return []string{"basic", "slow", "faults", "stall", "stress", "quick"}
}
