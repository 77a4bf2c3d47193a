package worker

import "time"

// Observer はジョブのライフサイクルを受け取る
// 全メソッドはワーカーや Submit の呼び出し元ゴルーチンから同時に呼ばれる
type Observer interface {
	JobSubmitted()
	JobRejected()
	JobStarted(workerID int)
	JobFinished(workerID int, duration time.Duration, panicked bool)
	JobsDiscarded(n int)
}

type nopObserver struct{}

func (nopObserver) JobSubmitted()                        {}
func (nopObserver) JobRejected()                         {}
func (nopObserver) JobStarted(int)                       {}
func (nopObserver) JobFinished(int, time.Duration, bool) {}
func (nopObserver) JobsDiscarded(int)                    {}
