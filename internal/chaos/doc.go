// Package chaos はワーカープールへの障害注入機能を提供する。
//
// ChaosMonkeyは一定間隔でプールに障害ジョブを投入し、
// panic や長時間ジョブがあってもプールが縮退しないことを確かめるために使用される。
//
// # 障害タイプ
//
// - Panic: ジョブの中で panic する（ワーカーは回収して次のジョブに戻る）
// - Stall: ジョブがワーカーを StallDuration だけ占有する
//
// # 使用例
//
//	config := chaos.DefaultConfig()
//	config.Interval = 3 * time.Second
//	config.TargetCount = 2
//
//	monkey := chaos.New(pool, config)
//	monkey.Start(ctx)
//	defer monkey.Stop()
package chaos
