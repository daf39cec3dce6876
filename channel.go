package chanhub

import (
	"encoding/json"

	"github.com/iamxvbaba/chanhub/pubsub"
)

// Channel 为频道处理器，每个会话持有一个实例，所有回调都在会话自己的 goroutine 中执行
//
// Join 返回的 reply 会作为 join 应答的 response 发给客户端，返回 error 则拒绝加入。
// HandleIn 返回 ErrStop 表示主动结束会话，返回其他 error 或 panic 视为会话崩溃。
// Terminate 在会话结束时调用一次。
type Channel interface {
	Join(payload json.RawMessage, sock *Socket) (reply any, err error)
	HandleIn(event string, payload json.RawMessage, sock *Socket) error
	Terminate(reason string, sock *Socket)
}

// OutboundInterceptor 可选接口：广播推送给客户端前调用，返回 false 则不推送
type OutboundInterceptor interface {
	HandleOut(event string, payload json.RawMessage, sock *Socket) bool
}

// Socket 为频道处理器可见的会话上下文
type Socket struct {
	Topic     string
	Transport string
	ConnID    string
	// Assigns 为处理器自定义状态，只在会话 goroutine 中访问
	Assigns map[string]any

	sessionID string
	ref       string
	conn      Outbound
	router    ChannelResolver
	pubsub    pubsub.PubSub
}

// Push 向本连接推送该 topic 的事件
func (s *Socket) Push(event string, payload any) error {
	msg, err := NewMessage(s.Topic, event, payload)
	if err != nil {
		return err
	}
	return s.conn.Push(msg)
}

// Reply 应答当前正在处理的消息，沿用请求的 ref
func (s *Socket) Reply(status string, response any) error {
	return s.conn.Push(replyMessage(Message{Topic: s.Topic, Ref: s.ref}, status, response))
}

// Broadcast 向该 topic 的所有订阅会话广播，包括自己
func (s *Socket) Broadcast(event string, payload any) error {
	return s.broadcast(event, payload, "")
}

// BroadcastFrom 向该 topic 的其他订阅会话广播
func (s *Socket) BroadcastFrom(event string, payload any) error {
	return s.broadcast(event, payload, s.sessionID)
}

func (s *Socket) broadcast(event string, payload any, from string) error {
	if s.pubsub == nil {
		return ErrNoPubSub
	}
	data, err := encodeBroadcast(event, payload, from)
	if err != nil {
		return err
	}
	return s.pubsub.Publish(s.Topic, data)
}

// Router 返回创建该会话的 Router
func (s *Socket) Router() ChannelResolver {
	return s.router
}

// broadcastEnvelope 为经 pubsub 传输的广播
type broadcastEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	From    string          `json:"from,omitempty"`
}

func encodeBroadcast(event string, payload any, from string) ([]byte, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(broadcastEnvelope{Event: event, Payload: data, From: from})
}

func decodeBroadcast(raw []byte) (broadcastEnvelope, error) {
	var env broadcastEnvelope
	err := json.Unmarshal(raw, &env)
	return env, err
}
