package worker

import "sync"

const compactThreshold = 1024

// queue は無制限の FIFO ジョブキュー
// 送信側は任意の数のゴルーチンから同時に使える
// 受信側は mu で排他され、同時に取り出せるワーカーは1つだけ
type queue struct {
	mu     sync.Mutex
	ready  *sync.Cond
	items  []Job
	head   int
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// push はジョブを末尾に追加する
// クローズ済みなら ErrPoolClosed を返す
func (q *queue) push(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrPoolClosed
	}

	q.items = append(q.items, job)
	q.ready.Signal()
	return nil
}

// pop は先頭のジョブを取り出す
// 空なら到着かクローズまでブロックする
// クローズ済みかつ空なら ok=false を返す
func (q *queue) pop() (job Job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head == len(q.items) && !q.closed {
		q.ready.Wait()
	}

	if q.head == len(q.items) {
		return nil, false
	}

	job = q.items[q.head]
	q.items[q.head] = nil
	q.head++

	// 読み切ったらスライスを再利用し、先頭側が大きくなったら詰める
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return job, true
}

// close は送信側を閉じて待機中の全ワーカーを起こす
// discard が true なら残りのジョブを同じロック内で破棄し、その数を返す
func (q *queue) close(discard bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.ready.Broadcast()

	if !discard {
		return 0
	}
	n := len(q.items) - q.head
	clear(q.items)
	q.items = nil
	q.head = 0
	return n
}

// len は待機中のジョブ数を返す
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// isClosed はクローズ済みかどうかを返す
func (q *queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
