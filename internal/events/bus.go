package events

import (
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

// Bus はプールと障害注入のイベントを配る pub/sub
// nil の *Bus はイベントを捨てるだけの有効な値として扱う
type Bus struct {
	mu          sync.RWMutex
	subscribers map[<-chan Event]chan Event
	bufferSize  int
	closed      bool

	dropped atomic.Uint64
}

// NewBus は新しいイベントバスを作成する
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[<-chan Event]chan Event),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe はデフォルトのバッファサイズで購読する
func (b *Bus) Subscribe() <-chan Event {
	return b.SubscribeWithBuffer(b.bufferSize)
}

// SubscribeWithBuffer は size 分バッファされたチャネルで購読する
// クローズ済みのバスではすでに閉じたチャネルを返す
func (b *Bus) SubscribeWithBuffer(size int) <-chan Event {
	if size <= 0 {
		size = defaultBufferSize
	}
	ch := make(chan Event, size)

	if b == nil {
		close(ch)
		return ch
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = ch
	return ch
}

// Unsubscribe は購読を解除してチャネルを閉じる
// 未登録または解除済みのチャネルでは何もしない
func (b *Bus) Unsubscribe(ch <-chan Event) {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(sub)
	}
}

// Publish は全購読者にイベントを送り、受け取った数を返す
// 送信はブロックしない。バッファが埋まっている購読者の分は捨てて Dropped に数える
func (b *Bus) Publish(event Event) int {
	if b == nil {
		return 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// SubscriberCount は購読者数を返す
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped はバッファ溢れで届かなかったイベント数を返す
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Close は全購読者のチャネルを閉じ、以後の購読を閉じたチャネルで返す
func (b *Bus) Close() {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for key, ch := range b.subscribers {
		delete(b.subscribers, key)
		close(ch)
	}
}
