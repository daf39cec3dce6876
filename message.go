package chanhub

import "encoding/json"

// 协议保留的 topic 与事件名
const (
	HeartbeatTopic = "phoenix"

	EventHeartbeat = "heartbeat"
	EventJoin      = "join"
	EventLeave     = "leave"
	EventReply     = "reply"
	EventClose     = "close"
	EventError     = "error"
)

var emptyPayload = json.RawMessage(`{}`)

// Message 表示一帧协议消息
// Topic 为频道名，Event 为事件名，Payload 为原始 JSON，Ref 为可选的关联标识（原样透传）
// 构造后不应再修改
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

// NewMessage 编码 payload 并构造消息，nil payload 编码为 {}
func NewMessage(topic, event string, payload any) (Message, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Topic: topic, Event: event, Payload: data}, nil
}

// IsHeartbeat 判断是否为协议心跳
func (m Message) IsHeartbeat() bool {
	return m.Topic == HeartbeatTopic && m.Event == EventHeartbeat
}

func heartbeatReply(ref string) Message {
	return Message{Topic: HeartbeatTopic, Event: EventHeartbeat, Payload: emptyPayload, Ref: ref}
}

// ReplyPayload 为 join 应答的负载
type ReplyPayload struct {
	Status   string `json:"status"`
	Response any    `json:"response,omitempty"`
}

func replyMessage(req Message, status string, response any) Message {
	data, err := json.Marshal(ReplyPayload{Status: status, Response: response})
	if err != nil {
		data, _ = json.Marshal(ReplyPayload{Status: status})
	}
	return Message{Topic: req.Topic, Event: EventReply, Payload: data, Ref: req.Ref}
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return emptyPayload, nil
	case json.RawMessage:
		if len(p) == 0 {
			return emptyPayload, nil
		}
		return p, nil
	}
	return json.Marshal(payload)
}
