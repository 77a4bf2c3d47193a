package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"poolserve/internal/logger"
	"poolserve/internal/metrics"
	"poolserve/internal/worker"
)

const component = "server"

const (
	StatusOK            = "HTTP/1.1 200 OK"
	StatusNotFound      = "HTTP/1.1 404 NOT FOUND"
	StatusInternalError = "HTTP/1.1 500 INTERNAL SERVER ERROR"

	IndexFile    = "index.html"
	NotFoundFile = "404.html"
)

var (
	rootRequest  = []byte("GET / HTTP/1.1\r\n")
	sleepRequest = []byte("GET /sleep HTTP/1.1\r\n")
)

// Submitter はジョブを受け付けるプール
type Submitter interface {
	Submit(job worker.Job) error
}

// Config はサーバーの設定
type Config struct {
	Addr        string        // 待ち受けアドレス
	DocRoot     string        // index.html と 404.html を置くディレクトリ
	BufferSize  int           // 1回の読み込みバイト数
	SlowDelay   time.Duration // /sleep の待ち時間
	ReadTimeout time.Duration // 読み込みタイムアウト（0で無制限）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:       "127.0.0.1:7878",
		DocRoot:    "public",
		BufferSize: 1024,
		SlowDelay:  5 * time.Second,
	}
}

// Response はリクエストの分類結果
type Response struct {
	Status string
	File   string
	Delay  time.Duration
}

// Server は接続ごとにジョブをプールへ送る TCP サーバー
type Server struct {
	config  Config
	pool    Submitter
	metrics *metrics.Metrics

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// New は新しいサーバーを作成する
func New(config Config, pool Submitter) *Server {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.DocRoot == "" {
		config.DocRoot = defaults.DocRoot
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	return &Server{
		config:  config,
		pool:    pool,
		metrics: metrics.New(),
	}
}

// Listen はソケットをバインドする
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return net.ErrClosed
	}
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	logger.Info(component, "Listening on %s", ln.Addr())
	return nil
}

// Addr はバインドされたアドレスを返す（Listen 前は nil）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start はバインドして ctx が終わるまで接続を受け付ける
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve は接続を1つずつ受け付け、それぞれをジョブとしてプールに送る
// ctx の終了か Close で nil を返す。プールが閉じていればそのエラーを返す
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || ctx.Err() != nil {
				logger.Info(component, "Accept loop stopped")
				return nil
			}
			logger.Warn(component, "accept failed: %v", err)
			continue
		}

		id := uuid.NewString()
		if err := s.pool.Submit(s.connectionJob(id, conn)); err != nil {
			_ = conn.Close()
			s.metrics.RecordFailure(0)
			if errors.Is(err, worker.ErrPoolClosed) {
				logger.Warn(component, "[%s] rejected: %v", id, err)
				_ = s.Close()
				return err
			}
			logger.Error(component, "[%s] submit failed: %v", id, err)
		}
	}
}

// Close はリスナーを閉じる
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Metrics はリクエストのメトリクスを返す
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// connectionJob は1接続分の処理をジョブにする
func (s *Server) connectionJob(id string, conn net.Conn) worker.Job {
	return func() {
		s.HandleConn(id, conn)
	}
}

// HandleConn は1回の読み込みと1回の応答を行い、接続を閉じる
func (s *Server) HandleConn(id string, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	start := time.Now()

	if s.config.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	buf := make([]byte, s.config.BufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		logger.Warn(component, "[%s] read failed: %v", id, err)
		s.metrics.RecordFailure(time.Since(start))
		return
	}

	resp := s.Classify(buf[:n])
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	status := resp.Status
	contents, err := os.ReadFile(filepath.Join(s.config.DocRoot, resp.File))
	if err != nil {
		logger.Error(component, "[%s] failed to read %s: %v", id, resp.File, err)
		status = StatusInternalError
		contents = nil
	}

	w := bufio.NewWriter(conn)
	_, err = fmt.Fprintf(w, "%s\r\nContent-Length: %d\r\n\r\n%s", status, len(contents), contents)
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		logger.Warn(component, "[%s] write failed: %v", id, err)
		s.metrics.RecordFailure(time.Since(start))
		return
	}

	logger.Debug(component, "[%s] %s (%d bytes)", id, status, len(contents))
	s.metrics.Record(time.Since(start), status != StatusInternalError)
}

// Classify はリクエストの先頭を固定パターンと比較して応答を決める
func (s *Server) Classify(request []byte) Response {
	switch {
	case bytes.HasPrefix(request, rootRequest):
		return Response{Status: StatusOK, File: IndexFile}
	case bytes.HasPrefix(request, sleepRequest):
		return Response{Status: StatusOK, File: IndexFile, Delay: s.config.SlowDelay}
	default:
		return Response{Status: StatusNotFound, File: NotFoundFile}
	}
}
