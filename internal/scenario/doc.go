// Package scenario は統合ベンチマーク実行機能を提供する。
//
// シナリオエンジンはワーカープール、ページサーバー、Client、ChaosMonkeyを
// プロセス内で組み立て、負荷と障害注入を同時にかけた結果を集計する。
//
// # 機能
//
// - シナリオ定義と実行
// - 定義済みプリセットシナリオ
// - 実行結果のレポート生成
//
// # プリセットシナリオ
//
// - basic: カオスなしの基本負荷テスト
// - slow: /sleep を混ぜた負荷テスト
// - faults: panic 注入テスト
// - stall: ワーカー占有テスト
// - stress: 高負荷ストレステスト
// - quick: 短時間の動作確認
//
// # 使用例
//
//	config := scenario.FaultsScenario()
//	engine := scenario.New(config)
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package scenario
