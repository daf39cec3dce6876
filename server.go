package chanhub

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/iamxvbaba/chanhub/pubsub"
)

// Server 接受 WebSocket 连接，并为每个连接运行分发与会话管理
type Server struct {
	conns   map[string]*Conn
	mu      sync.RWMutex
	auth    Authenticator
	router  ChannelResolver
	opts    Options
	origins *OriginPolicy
	pubsub  pubsub.PubSub
	logger  zerolog.Logger

	// graceful shutdown
	httpSrv     *http.Server
	cleanupOnce sync.Once
	cleanupStop chan struct{}
	stopOnce    sync.Once

	onConnect    func(*Conn)
	onDisconnect func(*Conn)
}

// NewServer 创建 Server
func NewServer(router ChannelResolver) *Server { return NewServerWithOptions(router, nil) }

// NewServerWithOptions 创建 Server（支持 Options）
func NewServerWithOptions(router ChannelResolver, opts *Options) *Server {
	o := DefaultOptions().merge(opts)
	ps := o.PubSub
	if ps == nil {
		ps = pubsub.NewMemory()
	}
	RegisterMetrics()
	return &Server{
		conns:       make(map[string]*Conn),
		auth:        AnonymousAuth{},
		router:      router,
		opts:        o,
		origins:     NewOriginPolicy(o.CheckOrigin),
		pubsub:      ps,
		logger:      o.Logger.With().Str("component", "chanhub").Logger(),
		cleanupStop: make(chan struct{}),
	}
}

// origin 已在 handleWS 中按 OriginPolicy 校验
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// UseAuth 替换默认的 AnonymousAuth
func (s *Server) UseAuth(auth Authenticator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = auth
}

// Handler 返回挂载了 WebSocket 端点的 http.Handler，并启动僵尸连接清理
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(s.opts.Path, s.handleWS).Methods(http.MethodGet)
	s.startCleanup()
	return r
}

// Serve 启动 HTTP 服务
func (s *Server) Serve(addr string) error {
	// 构造 http.Server 以便优雅关停
	s.mu.Lock()
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler()}
	srv := s.httpSrv
	s.mu.Unlock()
	return srv.ListenAndServe()
}

func (s *Server) startCleanup() {
	if !s.opts.ZombieCleanupEnabled || s.opts.ZombieCheckInterval <= 0 || s.opts.ZombieMaxIdle <= 0 {
		return
	}
	s.cleanupOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(s.opts.ZombieCheckInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.cleanupZombies()
				case <-s.cleanupStop:
					return
				}
			}
		}()
	})
}

// Shutdown 优雅关闭 Server：停止 HTTP、停止清理、关闭所有连接（触发各会话 leave）
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.cleanupStop) })
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	// 先禁止新连接，然后关闭 HTTP
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close()
		s.removeConn(c)
	}
	return nil
}

// Broadcast 向 topic 的所有会话广播事件（经 pubsub 后端，可跨节点）
func (s *Server) Broadcast(topic, event string, payload any) error {
	data, err := encodeBroadcast(event, payload, "")
	if err != nil {
		return err
	}
	return s.pubsub.Publish(topic, data)
}

// PushTo 直接向特定客户端推送 topic 上的事件
func (s *Server) PushTo(clientID, topic, event string, payload any) error {
	s.mu.RLock()
	conn, ok := s.conns[clientID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	return conn.Emit(topic, event, payload)
}

// ConnCount 返回当前连接数
func (s *Server) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.origins.Check(r) {
		originRejections.Inc()
		s.logger.Debug().Str("origin", r.Header.Get("Origin")).Msg("origin rejected")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	s.mu.RLock()
	auth := s.auth
	s.mu.RUnlock()
	ctx, clientID, err := auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if ctx != nil {
		r = r.WithContext(ctx)
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("upgrade error")
		return
	}

	conn := newConn(clientID, ws, s.opts.SendBuffer, s.logger)
	s.addConn(conn)
	connsActive.Inc()
	conn.logger.Info().Str("remote", r.RemoteAddr).Msg("connected")

	s.mu.RLock()
	onConnect, onDisconnect := s.onConnect, s.onDisconnect
	s.mu.RUnlock()
	if onConnect != nil {
		// 独立 goroutine 触发，避免阻塞握手
		go onConnect(conn)
	}

	// Server 侧心跳（可选）：发送 ping 并设置 read deadline
	if s.opts.HeartbeatEnabled && s.opts.HeartbeatInterval > 0 {
		conn.StartHeartbeat(s.opts.HeartbeatInterval)
	}

	go func() {
		<-conn.Closed()
		_ = conn.Close()
		s.removeConn(conn)
		connsActive.Dec()
		conn.logger.Info().Msg("disconnected")
		if onDisconnect != nil {
			onDisconnect(conn)
		}
	}()

	d := &Dispatcher{
		Router:    s.router,
		PubSub:    s.pubsub,
		Transport: TransportWebSocket,
		Logger:    conn.logger,
	}
	go conn.supervise(d)
}

func (s *Server) addConn(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.conns[c.ID]; ok && old != c {
		s.logger.Warn().Str("conn_id", c.ID).Msg("duplicate client id, replacing connection")
	}
	s.conns[c.ID] = c
}

func (s *Server) removeConn(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.conns[c.ID]; ok && cur == c {
		delete(s.conns, c.ID)
	}
}

// OnConnect 注册连接成功钩子
func (s *Server) OnConnect(h func(*Conn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = h
}

// OnDisconnect 注册连接断开钩子
func (s *Server) OnDisconnect(h func(*Conn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = h
}

// cleanupZombies 关闭超时无活动的连接
func (s *Server) cleanupZombies() {
	now := time.Now()
	s.mu.RLock()
	var toClose []*Conn
	for _, c := range s.conns {
		last := c.LastActivity()
		if last.IsZero() {
			continue
		}
		if now.Sub(last) > s.opts.ZombieMaxIdle {
			toClose = append(toClose, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range toClose {
		_ = c.Close()
		s.removeConn(c)
		s.logger.Info().Str("conn_id", c.ID).Msg("cleaned zombie connection")
	}
}
