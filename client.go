package chanhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client 封装客户端行为：join/leave、推送、协议心跳与自动重连
type Client struct {
	Conn *Conn

	url    string
	id     string
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	handlers map[string]func(json.RawMessage)
	pending  map[string]chan Message
	joined   map[string]json.RawMessage
	ref      atomic.Uint64
	stop     chan struct{}
}

// Connect 连接到 Server（使用默认 Options）
func Connect(urlStr string) (*Client, error) {
	return ConnectWithOptions(urlStr, "", nil)
}

// ConnectWithOptions 连接到 Server，并启动读取循环（支持 Options）
// 若 id 为空，将自动随机生成
func ConnectWithOptions(urlStr string, id string, opts *Options) (*Client, error) {
	o := DefaultOptions().merge(opts)
	if id == "" {
		id = uuid.NewString()
	}

	// 附带 query 以便跨代理丢头场景
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()

	c := &Client{
		url:      u.String(),
		id:       id,
		opts:     o,
		logger:   o.Logger.With().Str("component", "chanhub.client").Logger(),
		handlers: make(map[string]func(json.RawMessage)),
		pending:  make(map[string]chan Message),
		joined:   make(map[string]json.RawMessage),
		stop:     make(chan struct{}),
	}
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.Conn = conn
	c.start(conn)
	if o.ReconnectEnabled {
		go c.reconnectWatcher()
	}
	return c, nil
}

func (c *Client) dial() (*Conn, error) {
	header := http.Header{}
	header.Set("X-Client-ID", c.id)
	if c.opts.Origin != "" {
		header.Set("Origin", c.opts.Origin)
	}
	ws, _, err := websocket.DefaultDialer.Dial(c.url, header)
	if err != nil {
		return nil, err
	}
	return newConn(c.id, ws, c.opts.SendBuffer, c.logger), nil
}

func (c *Client) start(conn *Conn) {
	go conn.Run(c.deliver)
	if c.opts.HeartbeatEnabled && c.opts.HeartbeatInterval > 0 {
		go c.heartbeatLoop(conn)
	}
}

func (c *Client) current() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn
}

func handlerKey(topic, event string) string {
	return topic + "\x00" + event
}

// deliver 带 ref 的应答交给等待方，其余按 (topic, event) 交给处理器
func (c *Client) deliver(msg Message) {
	c.mu.Lock()
	if msg.Ref != "" {
		if ch, ok := c.pending[msg.Ref]; ok {
			delete(c.pending, msg.Ref)
			c.mu.Unlock()
			ch <- msg
			return
		}
	}
	handler, ok := c.handlers[handlerKey(msg.Topic, msg.Event)]
	c.mu.Unlock()
	if ok {
		go handler(msg.Payload)
	}
}

// On 注册 topic 上某个事件的处理器
func (c *Client) On(topic, event string, handler func(payload json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[handlerKey(topic, event)] = handler
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

// call 发送消息并等待同 ref 的应答
func (c *Client) call(ctx context.Context, msg Message) (Message, error) {
	msg.Ref = c.nextRef()
	ch := make(chan Message, 1)
	c.mu.Lock()
	c.pending[msg.Ref] = ch
	conn := c.Conn
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, msg.Ref)
		c.mu.Unlock()
	}
	if err := conn.Push(msg); err != nil {
		forget()
		return Message{}, err
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		forget()
		return Message{}, ctx.Err()
	case <-conn.Closed():
		forget()
		return Message{}, ErrConnClosed
	}
}

// Join 加入 topic 并返回 join 应答的 response
// 服务端对不存在的 topic 不做应答，调用方应通过 ctx 设置超时
func (c *Client) Join(ctx context.Context, topic string, payload any) (json.RawMessage, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	reply, err := c.call(ctx, Message{Topic: topic, Event: EventJoin, Payload: data})
	if err != nil {
		return nil, err
	}
	var rp struct {
		Status   string          `json:"status"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(reply.Payload, &rp); err != nil {
		return nil, fmt.Errorf("decode join reply: %w", err)
	}
	if rp.Status != "ok" {
		return rp.Response, fmt.Errorf("%w: %s", ErrJoinRejected, string(rp.Response))
	}
	c.mu.Lock()
	c.joined[topic] = data
	c.mu.Unlock()
	return rp.Response, nil
}

// Leave 离开 topic
func (c *Client) Leave(topic string) error {
	c.mu.Lock()
	delete(c.joined, topic)
	c.mu.Unlock()
	return c.current().Push(Message{Topic: topic, Event: EventLeave, Payload: emptyPayload})
}

// Push 向 topic 发送事件，不等待应答
func (c *Client) Push(topic, event string, payload any) error {
	conn := c.current()
	if conn == nil {
		return ErrConnClosed
	}
	return conn.Emit(topic, event, payload)
}

// Request 向 topic 发送事件并等待频道通过 Socket.Reply 应答
func (c *Client) Request(ctx context.Context, topic, event string, payload any) (json.RawMessage, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	reply, err := c.call(ctx, Message{Topic: topic, Event: event, Payload: data})
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

// Heartbeat 发送一次协议心跳并等待回显
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.call(ctx, Message{Topic: HeartbeatTopic, Event: EventHeartbeat, Payload: emptyPayload})
	return err
}

func (c *Client) heartbeatLoop(conn *Conn) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			msg := Message{Topic: HeartbeatTopic, Event: EventHeartbeat, Payload: emptyPayload, Ref: c.nextRef()}
			if err := conn.Push(msg); err != nil {
				return
			}
		case <-conn.Closed():
			return
		case <-c.stop:
			return
		}
	}
}

func (c *Client) reconnectWatcher() {
	// 同时监听 stop 与当前连接关闭，防止 stop 已关闭仍阻塞在连接关闭等待
	select {
	case <-c.stop:
		return
	case <-c.current().Closed():
	}
	backoff := c.opts.ReconnectBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		newConn, err := c.dial()
		if err != nil {
			c.logger.Debug().Err(err).Dur("backoff", backoff).Msg("reconnect failed")
			time.Sleep(backoff)
			backoff *= 2
			if limit := c.opts.ReconnectMaxBackoff; limit > 0 && backoff > limit {
				backoff = limit
			}
			continue
		}

		// 切换连接
		c.mu.Lock()
		c.Conn = newConn
		topics := make(map[string]json.RawMessage, len(c.joined))
		for topic, payload := range c.joined {
			topics[topic] = payload
		}
		c.mu.Unlock()
		c.start(newConn)
		c.rejoin(topics)

		// 继续监视新连接
		go c.reconnectWatcher()
		return
	}
}

func (c *Client) rejoin(topics map[string]json.RawMessage) {
	for topic, payload := range topics {
		go func(topic string, payload json.RawMessage) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := c.Join(ctx, topic, payload); err != nil {
				c.logger.Warn().Err(err).Str("topic", topic).Msg("rejoin failed")
			}
		}(topic, payload)
	}
}

// Close 停止自动重连并关闭当前连接
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
	}
	conn := c.Conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
