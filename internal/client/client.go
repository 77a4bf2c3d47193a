// Package client provides a load generator for the page server.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"poolserve/internal/logger"
	"poolserve/internal/metrics"
	"poolserve/internal/server"
	"poolserve/internal/worker"
)

const component = "client"

const (
	pathRoot     = "/"
	pathSleep    = "/sleep"
	pathNotFound = "/missing"
)

var errMalformedResponse = errors.New("client: malformed response")

// Config はClientの設定
type Config struct {
	NumWorkers    int           // ワーカー数（0でCPU数）
	Addr          string        // 接続先アドレス
	SlowRatio     float64       // /sleep の比率（0.0〜1.0）
	NotFoundRatio float64       // 存在しないパスの比率（0.0〜1.0）
	Timeout       time.Duration // 1リクエストのタイムアウト
	RequestsLimit uint64        // リクエスト上限（0で無制限）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		NumWorkers:    0, // CPU数
		Addr:          server.DefaultConfig().Addr,
		SlowRatio:     0,
		NotFoundRatio: 0.1,
		Timeout:       10 * time.Second,
		RequestsLimit: 0,
	}
}

// Client は負荷生成器
// 自前のワーカープールを使うため、Stop した Client は再利用できない
type Client struct {
	config  Config
	pool    *worker.Pool
	metrics *metrics.Metrics
	slots   chan struct{}
	issued  atomic.Uint64

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New は新しいClientを作成する
func New(config Config) (*Client, error) {
	if config.NumWorkers == 0 {
		config.NumWorkers = runtime.NumCPU()
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	pool, err := worker.NewWithConfig(worker.PoolConfig{
		Size: config.NumWorkers,
		Name: component,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client pool: %w", err)
	}

	return &Client{
		config:  config,
		pool:    pool,
		metrics: metrics.New(),
		// キューは無制限なので、送信中のリクエスト数はここで抑える
		slots: make(chan struct{}, 2*config.NumWorkers),
	}, nil
}

// Start は負荷生成を開始する
func (c *Client) Start(ctx context.Context) {
	if c.running.Swap(true) {
		return // Already running
	}

	ctx, c.cancel = context.WithCancel(ctx)

	logger.Info(component, "Client started (workers: %d, target: %s, slow: %.1f%%, not_found: %.1f%%)",
		c.pool.Size(), c.config.Addr, c.config.SlowRatio*100, c.config.NotFoundRatio*100)

	// リクエスト生成ループ
	c.wg.Add(1)
	go c.generateRequests(ctx)
}

// generateRequests はリクエストを生成し続ける
func (c *Client) generateRequests(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case c.slots <- struct{}{}:
		}

		// リクエスト上限チェック
		if c.config.RequestsLimit > 0 && c.issued.Load() >= c.config.RequestsLimit {
			<-c.slots
			return
		}

		if err := c.pool.Submit(c.createJob(c.pickPath())); err != nil {
			<-c.slots
			logger.Warn(component, "request generation stopped: %v", err)
			return
		}
		c.issued.Add(1)
	}
}

// pickPath は比率に従ってリクエストパスを選ぶ
func (c *Client) pickPath() string {
	r := rand.Float64()
	switch {
	case r < c.config.SlowRatio:
		return pathSleep
	case r < c.config.SlowRatio+c.config.NotFoundRatio:
		return pathNotFound
	default:
		return pathRoot
	}
}

// createJob はリクエストジョブを作成する
func (c *Client) createJob(path string) worker.Job {
	return func() {
		defer func() { <-c.slots }()

		start := time.Now()
		err := c.do(path)
		latency := time.Since(start)
		if err != nil {
			logger.Debug(component, "GET %s failed: %v", path, err)
			c.metrics.RecordFailure(latency)
			return
		}
		c.metrics.RecordSuccess(latency)
	}
}

// do は1回の接続でリクエストを送り、応答を検証する
func (c *Client) do(path string) error {
	conn, err := net.DialTimeout("tcp", c.config.Addr, c.config.Timeout)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(c.config.Timeout)); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(conn, "GET %s HTTP/1.1\r\nHost: %s\r\n\r\n", path, c.config.Addr); err != nil {
		return err
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return err
	}

	status, err := CheckResponse(raw)
	if err != nil {
		return err
	}
	if want := ExpectedStatus(path); status != want {
		return fmt.Errorf("unexpected status %q (want %q)", status, want)
	}
	return nil
}

// ExpectedStatus はパスに対して期待されるステータス行を返す
func ExpectedStatus(path string) string {
	switch path {
	case pathRoot, pathSleep:
		return server.StatusOK
	default:
		return server.StatusNotFound
	}
}

// CheckResponse は応答を分解し、Content-Length と本文長が一致すればステータス行を返す
func CheckResponse(raw []byte) (string, error) {
	head, body, ok := bytes.Cut(raw, []byte("\r\n\r\n"))
	if !ok {
		return "", errMalformedResponse
	}

	lines := bytes.Split(head, []byte("\r\n"))
	status := string(lines[0])

	length := -1
	for _, line := range lines[1:] {
		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok || !bytes.EqualFold(bytes.TrimSpace(name), []byte("Content-Length")) {
			continue
		}
		n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil {
			return "", fmt.Errorf("%w: bad Content-Length: %v", errMalformedResponse, err)
		}
		length = n
	}

	if length < 0 {
		return "", fmt.Errorf("%w: missing Content-Length", errMalformedResponse)
	}
	if length != len(body) {
		return "", fmt.Errorf("%w: Content-Length %d, body %d bytes", errMalformedResponse, length, len(body))
	}
	return status, nil
}

// Stop は負荷生成を停止し、送信中のリクエストの完了を待つ
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return // Not running
	}

	c.cancel()
	c.wg.Wait()
	_ = c.pool.Close()

	logger.Info(component, "Client stopped (requests: %d)", c.metrics.TotalRequests())
}

// Close は Start していない Client のプールを解放する
func (c *Client) Close() error {
	c.Stop()
	return c.pool.Close()
}

// Metrics はメトリクスを返す
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// IsRunning は実行中かどうかを返す
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// RunFor は指定時間だけ負荷生成を実行する
func (c *Client) RunFor(ctx context.Context, duration time.Duration) *metrics.Snapshot {
	c.Start(ctx)

	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}

	c.Stop()

	snapshot := c.metrics.Snapshot()
	return &snapshot
}

// RunRequests は指定数のリクエストを実行する
func (c *Client) RunRequests(ctx context.Context, count uint64) *metrics.Snapshot {
	c.config.RequestsLimit = count
	c.Start(ctx)
	c.wg.Wait()
	c.Stop()

	snapshot := c.metrics.Snapshot()
	return &snapshot
}
