package chanhub

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iamxvbaba/chanhub/pubsub"
)

// Decision 为一条入站消息的路由决策，按优先级排列
type Decision int

const (
	// DecisionHeartbeat 协议心跳，直接回显
	DecisionHeartbeat Decision = iota
	// DecisionJoin 无会话的 join，解析频道并创建会话
	DecisionJoin
	// DecisionIgnore 无会话的其他事件
	DecisionIgnore
	// DecisionForward 已有会话，异步转发
	DecisionForward
)

func (d Decision) String() string {
	switch d {
	case DecisionHeartbeat:
		return "heartbeat"
	case DecisionJoin:
		return "join"
	case DecisionIgnore:
		return "ignore"
	case DecisionForward:
		return "forward"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// ResultKind 为 Dispatch 的结果类型，ignore 是正常结果而非失败
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultIgnore
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultIgnore:
		return "ignore"
	case ResultError:
		return "error"
	}
	return fmt.Sprintf("result(%d)", int(k))
}

// Result 为一次分发的结果
// join 成功时 Session 为新会话（调用方负责以 topic 注册），Response 为 join 应答；
// join 被拒绝时 Response 为拒绝应答；
// 心跳时 Reply 为需回写的消息
type Result struct {
	Kind     ResultKind
	Decision Decision
	Session  *Session
	Response any
	Reply    *Message
	Err      error
}

// Decide 计算路由决策，existing 为注册表中该 topic 的会话（可为 nil）
// 已关闭的会话视为不存在
func Decide(existing *Session, msg Message) Decision {
	live := existing != nil && !existing.Closed()
	switch {
	case msg.IsHeartbeat():
		return DecisionHeartbeat
	case !live && msg.Event == EventJoin:
		return DecisionJoin
	case !live:
		return DecisionIgnore
	default:
		return DecisionForward
	}
}

// Dispatcher 为路由核心，单个连接内只在其监督 goroutine 中调用
type Dispatcher struct {
	Router    ChannelResolver
	PubSub    pubsub.PubSub
	Transport string
	Logger    zerolog.Logger
}

// Dispatch 路由一条入站消息，路由层面的情况（topic 不存在、重复 join）从不返回错误
func (d *Dispatcher) Dispatch(existing *Session, msg Message, conn Outbound) Result {
	decision := Decide(existing, msg)
	res := d.dispatch(decision, existing, msg, conn)
	res.Decision = decision
	recordDispatch(decision, res.Kind)
	return res
}

func (d *Dispatcher) dispatch(decision Decision, existing *Session, msg Message, conn Outbound) Result {
	switch decision {
	case DecisionHeartbeat:
		reply := heartbeatReply(msg.Ref)
		return Result{Kind: ResultOK, Reply: &reply}

	case DecisionJoin:
		var factory ChannelFactory
		ok := false
		if d.Router != nil {
			factory, ok = d.Router.ChannelForTopic(msg.Topic, d.Transport)
		}
		if !ok {
			d.ignored(msg, "no channel matched topic")
			return Result{Kind: ResultIgnore}
		}
		s, reply, err := startSession(sessionContext{
			conn:      conn,
			router:    d.Router,
			pubsub:    d.PubSub,
			topic:     msg.Topic,
			factory:   factory,
			transport: d.Transport,
			logger:    d.Logger,
		}, msg.Payload)
		if err != nil {
			d.Logger.Debug().Err(err).Str("topic", msg.Topic).Str("conn_id", conn.ConnID()).Msg("join rejected")
			return Result{Kind: ResultError, Err: err, Response: rejectResponse(err)}
		}
		return Result{Kind: ResultOK, Session: s, Response: reply}

	case DecisionIgnore:
		d.ignored(msg, "no session for topic")
		return Result{Kind: ResultIgnore}

	default:
		existing.Send(msg.Event, msg.Payload, msg.Ref)
		return Result{Kind: ResultOK}
	}
}

func (d *Dispatcher) ignored(msg Message, why string) {
	d.Logger.Debug().
		Str("topic", msg.Topic).
		Str("event", msg.Event).
		Str("router", routerName(d.Router)).
		Msg(why)
}

func routerName(r ChannelResolver) string {
	if s, ok := r.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", r)
}

// Registry 为单个连接的 topic -> 会话映射，只由连接的监督 goroutine 访问
type Registry map[string]*Session

// Lookup 返回 topic 对应的会话
func (r Registry) Lookup(topic string) *Session {
	return r[topic]
}

// Register 在 join 成功后登记会话
func (r Registry) Register(topic string, s *Session) {
	r[topic] = s
}

// Remove 仅当 topic 仍指向 s 时删除，避免过期的终止通知删掉新会话
func (r Registry) Remove(topic string, s *Session) bool {
	if cur, ok := r[topic]; ok && cur == s {
		delete(r, topic)
		return true
	}
	return false
}

// DispatchLeave 向注册表中每个会话异步投递一个 leave 事件，payload 为 reason
// 不等待会话处理，也不修改注册表，返回成功投递的数量
func DispatchLeave(registry Registry, reason string) int {
	payload, err := json.Marshal(reason)
	if err != nil {
		payload = emptyPayload
	}
	n := 0
	for _, s := range registry {
		if s.Send(EventLeave, payload, "") {
			n++
		}
	}
	return n
}
