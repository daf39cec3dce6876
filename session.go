package chanhub

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iamxvbaba/chanhub/pubsub"
)

// SessionState 会话生命周期: joining -> joined -> leaving -> terminated
type SessionState int32

const (
	StateJoining SessionState = iota
	StateJoined
	StateLeaving
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Exit 为会话终止通知，Err 非 nil 表示异常终止
type Exit struct {
	Topic   string
	Session *Session
	Reason  string
	Err     error
}

// Outbound 为会话所属的连接
type Outbound interface {
	ConnID() string
	// Push 发送一条下行消息，不等待写出
	Push(msg Message) error
	// SessionExited 通知连接会话已终止，连接据此从注册表删除
	SessionExited(e Exit)
}

type mailKind uint8

const (
	mailClient mailKind = iota
	mailBroadcast
)

type mail struct {
	kind    mailKind
	event   string
	payload json.RawMessage
	ref     string
	raw     []byte
}

type sessionContext struct {
	conn      Outbound
	router    ChannelResolver
	pubsub    pubsub.PubSub
	topic     string
	factory   ChannelFactory
	transport string
	logger    zerolog.Logger
}

type joinResult struct {
	reply any
	err   error
}

// Session 为一个 (连接, topic) 的独立执行单元
// 拥有自己的 goroutine 与无界邮箱，崩溃只影响自身
type Session struct {
	id      string
	topic   string
	channel Channel
	socket  *Socket
	conn    Outbound
	pubsub  pubsub.PubSub
	logger  zerolog.Logger

	state atomic.Int32

	mu      sync.Mutex
	mailbox *queue.Queue
	closed  bool
	wake    chan struct{}
	done    chan struct{}

	unsubscribe func()
}

// startSession 启动会话并等待 join 结果，join 失败时会话已终止且不会发送 Exit
func startSession(c sessionContext, payload json.RawMessage) (*Session, any, error) {
	id := uuid.NewString()
	s := &Session{
		id:      id,
		topic:   c.topic,
		conn:    c.conn,
		pubsub:  c.pubsub,
		logger:  c.logger.With().Str("topic", c.topic).Str("session_id", id).Logger(),
		mailbox: queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.socket = &Socket{
		Topic:     c.topic,
		Transport: c.transport,
		ConnID:    c.conn.ConnID(),
		Assigns:   make(map[string]any),
		sessionID: id,
		conn:      c.conn,
		router:    c.router,
		pubsub:    c.pubsub,
	}

	joined := make(chan joinResult, 1)
	go s.run(c.factory, payload, joined)
	r := <-joined
	if r.err != nil {
		return nil, nil, r.err
	}
	return s, r.reply, nil
}

// ID 返回会话唯一标识
func (s *Session) ID() string { return s.id }

// Topic 返回会话所服务的 topic
func (s *Session) Topic() string { return s.topic }

// State 返回当前生命周期状态
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Done 在会话终止后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// Closed 会话是否已停止接收消息
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Send 将事件投递到会话邮箱后立即返回，会话已关闭时丢弃并返回 false
func (s *Session) Send(event string, payload json.RawMessage, ref string) bool {
	return s.enqueue(mail{kind: mailClient, event: event, payload: payload, ref: ref})
}

func (s *Session) enqueue(m mail) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.mailbox.Add(m)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Session) next() mail {
	for {
		s.mu.Lock()
		if s.mailbox.Length() > 0 {
			m := s.mailbox.Remove().(mail)
			s.mu.Unlock()
			return m
		}
		s.mu.Unlock()
		<-s.wake
	}
}

func (s *Session) run(factory ChannelFactory, payload json.RawMessage, joined chan<- joinResult) {
	reply, err := s.join(factory, payload)
	if err == nil && s.pubsub != nil {
		if subErr := s.subscribe(); subErr != nil {
			_ = s.guard(func() error {
				s.channel.Terminate("subscribe failed", s.socket)
				return nil
			})
			err = fmt.Errorf("%w: subscribe %s: %w", ErrJoinRejected, s.topic, subErr)
		}
	}
	if err != nil {
		s.close()
		s.state.Store(int32(StateTerminated))
		close(s.done)
		joined <- joinResult{err: err}
		return
	}

	s.state.Store(int32(StateJoined))
	sessionsActive.Inc()
	joined <- joinResult{reply: reply}

	reason, crash := s.loop()
	s.shutdown(reason, crash)
}

func (s *Session) join(factory ChannelFactory, payload json.RawMessage) (reply any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("join crashed")
			reply, err = nil, fmt.Errorf("%w: %s", ErrJoinRejected, s.topic)
		}
	}()
	s.channel = factory()
	if s.channel == nil {
		return nil, fmt.Errorf("%w: no channel for %s", ErrJoinRejected, s.topic)
	}
	reply, err = s.channel.Join(payload, s.socket)
	if err != nil && !errors.Is(err, ErrJoinRejected) {
		err = fmt.Errorf("%w: %w", ErrJoinRejected, err)
	}
	return reply, err
}

func (s *Session) subscribe() error {
	ch, cancel, err := s.pubsub.Subscribe(s.topic)
	if err != nil {
		return err
	}
	s.unsubscribe = cancel
	go func() {
		for m := range ch {
			s.enqueue(mail{kind: mailBroadcast, raw: m.Payload})
		}
	}()
	return nil
}

// loop 处理邮箱直到 leave、主动结束或崩溃
func (s *Session) loop() (string, error) {
	for {
		m := s.next()
		if m.kind == mailBroadcast {
			if err := s.handleOut(m.raw); err != nil {
				return "crash", err
			}
			continue
		}
		if m.event == EventLeave {
			s.state.Store(int32(StateLeaving))
			return leaveReason(m.payload), nil
		}
		err := s.guard(func() error {
			s.socket.ref = m.ref
			return s.channel.HandleIn(m.event, m.payload, s.socket)
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrStop):
			return "stop", nil
		default:
			return "crash", err
		}
	}
}

func (s *Session) handleOut(raw []byte) error {
	env, err := decodeBroadcast(raw)
	if err != nil {
		s.logger.Debug().Err(err).Msg("drop malformed broadcast")
		return nil
	}
	if env.From != "" && env.From == s.id {
		return nil
	}
	if ic, ok := s.channel.(OutboundInterceptor); ok {
		push := false
		if err := s.guard(func() error {
			push = ic.HandleOut(env.Event, env.Payload, s.socket)
			return nil
		}); err != nil {
			return err
		}
		if !push {
			return nil
		}
	}
	_ = s.conn.Push(Message{Topic: s.topic, Event: env.Event, Payload: env.Payload})
	return nil
}

// guard 将处理器 panic 转为 error
func (s *Session) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("channel panic")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (s *Session) shutdown(reason string, crash error) {
	s.state.Store(int32(StateLeaving))
	s.close()

	if crash != nil {
		s.logger.Error().Err(crash).Msg("session crashed")
		_ = s.conn.Push(Message{Topic: s.topic, Event: EventError, Payload: emptyPayload})
	}
	if err := s.guard(func() error {
		s.channel.Terminate(reason, s.socket)
		return nil
	}); err != nil {
		s.logger.Warn().Err(err).Msg("terminate failed")
	}
	if crash == nil {
		_ = s.conn.Push(Message{Topic: s.topic, Event: EventClose, Payload: emptyPayload})
	}

	s.state.Store(int32(StateTerminated))
	sessionsActive.Dec()
	recordSessionExit(crash != nil)
	s.logger.Debug().Str("reason", reason).Msg("session terminated")
	close(s.done)
	s.conn.SessionExited(Exit{Topic: s.topic, Session: s, Reason: reason, Err: crash})
}

// close 停止接收消息，丢弃未处理的邮件并退订广播
func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mailbox = queue.New()
	s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func leaveReason(payload json.RawMessage) string {
	var reason string
	if err := json.Unmarshal(payload, &reason); err == nil && reason != "" {
		return reason
	}
	return EventLeave
}
