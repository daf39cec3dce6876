// Package pubsub 提供会话广播使用的发布订阅后端
package pubsub

// Message 为后端投递的消息
type Message struct {
	Topic   string
	Payload []byte
}

// PubSub 为广播后端的最小接口
// Subscribe 返回的 cancel 会关闭消息通道
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
}
