package chanhub

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait = 10 * time.Second
	// 连接断开时投递给各会话的 leave 原因
	closeReason = "closed"
)

// Conn 封装单个 WebSocket 连接
// 读循环、写循环、监督循环各占一个 goroutine，会话注册表只由监督循环持有
type Conn struct {
	ID     string
	ws     *websocket.Conn
	logger zerolog.Logger

	send       chan Message
	exits      chan Exit
	queries    chan func(Registry)
	supervised atomic.Bool
	closed     chan struct{}
	closedOnce sync.Once
	writeMu    sync.Mutex

	mu sync.RWMutex
	// heartbeat
	heartbeatInterval time.Duration
	heartbeatOnce     sync.Once
	stopHeartbeat     chan struct{}
	stopOnce          sync.Once
	lastActivity      time.Time
}

// NewConn 创建连接封装并启动写循环
func NewConn(id string, ws *websocket.Conn) *Conn {
	return newConn(id, ws, DefaultOptions().SendBuffer, log.Logger)
}

func newConn(id string, ws *websocket.Conn, buffer int, logger zerolog.Logger) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	c := &Conn{
		ID:            id,
		ws:            ws,
		logger:        logger.With().Str("conn_id", id).Logger(),
		send:          make(chan Message, buffer),
		exits:         make(chan Exit, 16),
		queries:       make(chan func(Registry)),
		closed:        make(chan struct{}),
		stopHeartbeat: make(chan struct{}),
		lastActivity:  time.Now(),
	}
	// 默认 pong 处理：刷新读超时
	ws.SetPongHandler(func(appData string) error {
		c.mu.Lock()
		c.lastActivity = time.Now()
		interval := c.heartbeatInterval
		c.mu.Unlock()
		if interval > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(interval * 3))
		}
		return nil
	})
	go c.writeLoop()
	return c
}

// ConnID 实现 Outbound
func (c *Conn) ConnID() string { return c.ID }

// Push 将消息放入下行队列，连接关闭后返回 ErrConnClosed
func (c *Conn) Push(msg Message) error {
	if c == nil || c.ws == nil {
		return ErrConnClosed
	}
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.closed:
		return ErrConnClosed
	}
}

// Emit 向对端发送 topic 上的事件
func (c *Conn) Emit(topic, event string, payload any) error {
	msg, err := NewMessage(topic, event, payload)
	if err != nil {
		return err
	}
	return c.Push(msg)
}

// SessionExited 实现 Outbound，连接关闭后通知被丢弃
func (c *Conn) SessionExited(e Exit) {
	select {
	case c.exits <- e:
	case <-c.closed:
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.logger.Debug().Err(err).Msg("write error")
				c.markClosed()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) write(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

// Run 读取循环，收到消息后交给回调处理；无法解析的帧被丢弃
func (c *Conn) Run(onMessage func(msg Message)) {
	// 如果启用心跳，设置初始读超时
	c.mu.RLock()
	interval := c.heartbeatInterval
	c.mu.RUnlock()
	if interval > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(interval * 3))
	}
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debug().Err(err).Msg("read error")
			c.markClosed()
			return
		}
		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug().Err(err).Msg("drop malformed frame")
			continue
		}
		onMessage(msg)
	}
}

// supervise 持有会话注册表：分发入站消息、处理会话终止通知，连接关闭时对所有会话投递一次 leave
func (c *Conn) supervise(d *Dispatcher) {
	c.supervised.Store(true)
	registry := make(Registry)
	inbound := make(chan Message)
	go c.Run(func(msg Message) {
		select {
		case inbound <- msg:
		case <-c.closed:
		}
	})

	for {
		select {
		case msg := <-inbound:
			c.handle(d, registry, msg)
		case e := <-c.exits:
			if registry.Remove(e.Topic, e.Session) {
				c.logger.Debug().Str("topic", e.Topic).Str("reason", e.Reason).Msg("session removed")
			}
		case fn := <-c.queries:
			fn(registry)
		case <-c.closed:
			n := DispatchLeave(registry, closeReason)
			c.logger.Debug().Int("sessions", n).Msg("dispatched leave")
			return
		}
	}
}

func (c *Conn) handle(d *Dispatcher, registry Registry, msg Message) {
	res := d.Dispatch(registry.Lookup(msg.Topic), msg, c)
	switch res.Kind {
	case ResultOK:
		if res.Reply != nil {
			_ = c.Push(*res.Reply)
		}
		if res.Session != nil {
			registry.Register(msg.Topic, res.Session)
			_ = c.Push(replyMessage(msg, "ok", res.Response))
		}
	case ResultError:
		_ = c.Push(replyMessage(msg, "error", res.Response))
	}
}

// inspect 在监督 goroutine 中读取注册表，连接未被监督或已关闭时返回 false
func (c *Conn) inspect(fn func(Registry)) bool {
	if !c.supervised.Load() {
		return false
	}
	done := make(chan struct{})
	select {
	case c.queries <- func(r Registry) { fn(r); close(done) }:
	case <-c.closed:
		return false
	}
	<-done
	return true
}

// Topics 返回该连接当前已加入的 topic
func (c *Conn) Topics() []string {
	var topics []string
	c.inspect(func(r Registry) {
		for topic := range r {
			topics = append(topics, topic)
		}
	})
	sort.Strings(topics)
	return topics
}

// Close 主动关闭连接
func (c *Conn) Close() error {
	if c == nil || c.ws == nil {
		return nil
	}
	c.markClosed()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.ws.Close()
}

// Closed 返回关闭通知通道
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// LastActivity 返回最近一次活动时间（读或 pong）
func (c *Conn) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// StartHeartbeat 启动 ping 定时器
func (c *Conn) StartHeartbeat(interval time.Duration) {
	if interval <= 0 || c == nil || c.ws == nil {
		return
	}
	c.heartbeatOnce.Do(func() {
		c.mu.Lock()
		c.heartbeatInterval = interval
		c.mu.Unlock()
		go c.pingLoop(interval)
	})
}

func (c *Conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				c.logger.Debug().Err(err).Msg("ping error")
				c.markClosed()
				return
			}
		case <-c.stopHeartbeat:
			return
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) stopHeartbeatLoop() {
	c.stopOnce.Do(func() { close(c.stopHeartbeat) })
}

// markClosed 安全关闭 closed 通道
func (c *Conn) markClosed() {
	c.closedOnce.Do(func() {
		c.stopHeartbeatLoop()
		close(c.closed)
	})
}
