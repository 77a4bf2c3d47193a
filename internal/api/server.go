package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"poolserve/internal/events"
	"poolserve/internal/logger"
	"poolserve/internal/metrics"
	"poolserve/internal/worker"
)

const component = "admin"

// StatsProvider はプールの状態を返す
type StatsProvider interface {
	Stats() worker.Stats
}

// RequestMetricsProvider はリクエストメトリクスを返す
type RequestMetricsProvider interface {
	Metrics() *metrics.Metrics
}

// Server は管理用 API サーバー
type Server struct {
	addr     string
	pool     StatsProvider
	requests RequestMetricsProvider
	eventBus *events.Bus
	gatherer prometheus.Gatherer
	engine   *gin.Engine

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool

	server   *http.Server
	listener net.Listener
}

// Options は管理 API の任意設定
type Options struct {
	Requests RequestMetricsProvider // /api/status にリクエスト統計を含める（nil可）
	Events   *events.Bus            // /ws に流すイベント（nil可）
	Gatherer prometheus.Gatherer    // /metrics の出力元（nilなら DefaultGatherer）
}

// NewServer は新しい API サーバーを作成する
func NewServer(addr string, pool StatsProvider, opts Options) *Server {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		addr:      addr,
		pool:      pool,
		requests:  opts.Requests,
		eventBus:  opts.Events,
		gatherer:  gatherer,
		wsClients: make(map[*websocket.Conn]bool),
	}
	s.engine = s.newRouter()
	return s
}

// newRouter はルーティングを組み立てる
func (s *Server) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(accessLog())
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/health", s.handleHealth)
	api.GET("/system", s.handleSystem)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.GET("/ws", gin.WrapH(websocket.Handler(s.handleWebSocket)))

	return r
}

// Handler は HTTP ハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start はサーバーを開始し、ctx が終わるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve は指定したリスナーで配信する
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	// バックグラウンドでイベントとステータスを配信
	go s.broadcastLoop(ctx)

	logger.Info(component, "Admin API listening on http://%s", ln.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr は待ち受け中のアドレスを返す
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Pool          worker.Stats      `json:"pool"`
	Requests      *metrics.Snapshot `json:"requests,omitempty"`
	EventsDropped uint64            `json:"events_dropped"`
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		Pool:          s.pool.Stats(),
		EventsDropped: s.eventBus.Dropped(),
	}
	if s.requests != nil {
		snap := s.requests.Metrics().Snapshot()
		resp.Requests = &snap
	}
	return resp
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.pool.Stats()
	if stats.Closed {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "closed", "alive": stats.Alive})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "alive": stats.Alive, "size": stats.Size})
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// 切断されるまで読み捨てる
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

// ClientCount は接続中の WebSocket クライアント数を返す
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) closeClients() {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	for _, ws := range clients {
		_ = ws.Close()
	}
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		logger.Error(component, "Failed to encode broadcast: %v", err)
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// broadcastLoop はバスのイベントと1秒ごとのステータスを配信する
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var sub <-chan events.Event
	if s.eventBus != nil {
		sub = s.eventBus.Subscribe()
		defer s.eventBus.Unsubscribe(sub)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			s.broadcast(map[string]any{
				"type":  "event",
				"event": ev,
			})
		case <-ticker.C:
			s.broadcast(map[string]any{
				"type":   "status",
				"status": s.status(),
			})
		}
	}
}

// accessLog はリクエストをロガーに記録するミドルウェア
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(component, "%s %s %d %v",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
