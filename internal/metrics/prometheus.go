package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"poolserve/internal/worker"
)

// CollectorOptions は PoolCollector の設定
type CollectorOptions struct {
	Pool            string    // pool ラベルの値
	DurationBuckets []float64 // job_duration_seconds のバケット
}

// PoolCollector はワーカープールのイベントを Prometheus のメトリクスに変換する
type PoolCollector struct {
	pool string

	submitted   prometheus.Counter
	rejected    prometheus.Counter
	completed   *prometheus.CounterVec
	panicked    *prometheus.CounterVec
	discarded   prometheus.Counter
	active      prometheus.Gauge
	jobDuration prometheus.Histogram
}

var _ worker.Observer = (*PoolCollector)(nil)

// NewPoolCollector はコレクタを作成して reg に登録する
// 同じ名前のコレクタが登録済みならそれを再利用する
func NewPoolCollector(namespace string, reg prometheus.Registerer, opts CollectorOptions) (*PoolCollector, error) {
	if namespace == "" {
		namespace = "poolserve"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	pool := opts.Pool
	if pool == "" {
		pool = "pool"
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	constLabels := prometheus.Labels{"pool": pool}

	submitted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "jobs_submitted_total",
		Help:        "Total number of jobs accepted by the pool.",
		ConstLabels: constLabels,
	})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "jobs_rejected_total",
		Help:        "Total number of submissions rejected because the pool was closed.",
		ConstLabels: constLabels,
	})
	completed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "jobs_completed_total",
		Help:        "Total number of jobs that ran to completion, by worker.",
		ConstLabels: constLabels,
	}, []string{"worker"})
	panicked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "jobs_panicked_total",
		Help:        "Total number of jobs that panicked and were recovered, by worker.",
		ConstLabels: constLabels,
	}, []string{"worker"})
	discarded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "jobs_discarded_total",
		Help:        "Total number of queued jobs dropped at shutdown.",
		ConstLabels: constLabels,
	})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "jobs_active",
		Help:        "Number of jobs currently executing.",
		ConstLabels: constLabels,
	})
	jobDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        "job_duration_seconds",
		Help:        "Job execution time in seconds.",
		Buckets:     buckets,
		ConstLabels: constLabels,
	})

	var err error
	if submitted, err = registerCollector(reg, submitted); err != nil {
		return nil, err
	}
	if rejected, err = registerCollector(reg, rejected); err != nil {
		return nil, err
	}
	if completed, err = registerCollector(reg, completed); err != nil {
		return nil, err
	}
	if panicked, err = registerCollector(reg, panicked); err != nil {
		return nil, err
	}
	if discarded, err = registerCollector(reg, discarded); err != nil {
		return nil, err
	}
	if active, err = registerCollector(reg, active); err != nil {
		return nil, err
	}
	if jobDuration, err = registerCollector(reg, jobDuration); err != nil {
		return nil, err
	}

	return &PoolCollector{
		pool:        pool,
		submitted:   submitted,
		rejected:    rejected,
		completed:   completed,
		panicked:    panicked,
		discarded:   discarded,
		active:      active,
		jobDuration: jobDuration,
	}, nil
}

// JobSubmitted はジョブの受付を記録する
func (c *PoolCollector) JobSubmitted() {
	c.submitted.Inc()
}

// JobRejected はクローズ後の受付拒否を記録する
func (c *PoolCollector) JobRejected() {
	c.rejected.Inc()
}

// JobStarted は実行開始を記録する
func (c *PoolCollector) JobStarted(int) {
	c.active.Inc()
}

// JobFinished は実行完了を記録する
func (c *PoolCollector) JobFinished(workerID int, d time.Duration, panicked bool) {
	c.active.Dec()
	c.jobDuration.Observe(d.Seconds())

	label := strconv.Itoa(workerID)
	if panicked {
		c.panicked.WithLabelValues(label).Inc()
		return
	}
	c.completed.WithLabelValues(label).Inc()
}

// JobsDiscarded はシャットダウン時に破棄されたジョブ数を記録する
func (c *PoolCollector) JobsDiscarded(n int) {
	c.discarded.Add(float64(n))
}

func registerCollector[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
