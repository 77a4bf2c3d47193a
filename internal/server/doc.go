// Package server は接続ごとに1つのジョブをワーカープールへ送る TCP サーバーを提供する。
//
// 各ジョブは固定サイズのバッファを1回読み、先頭を固定パターンと比較して
// index.html か 404.html を選び、ステータス行・Content-Length・本文を書いて接続を閉じる。
// "GET /sleep HTTP/1.1" は SlowDelay だけ待ってから応答する。
//
// # 使用例
//
//	pool, _ := worker.New(4)
//	srv := server.New(server.DefaultConfig(), pool)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//
// プールが閉じられると Serve は worker.ErrPoolClosed を返して受付を止める。
package server
