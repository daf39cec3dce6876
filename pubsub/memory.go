package pubsub

import "sync"

// DefaultSubscriberBuffer 为每个订阅者的缓冲长度
const DefaultSubscriberBuffer = 64

// Memory 为进程内后端，单节点部署与测试使用
type Memory struct {
	mu     sync.RWMutex
	nextID int
	buffer int
	subs   map[string]map[int]chan Message
}

func NewMemory() *Memory {
	return NewMemoryWithBuffer(DefaultSubscriberBuffer)
}

func NewMemoryWithBuffer(buffer int) *Memory {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Memory{buffer: buffer, subs: make(map[string]map[int]chan Message)}
}

func (m *Memory) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs[topic] {
		msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
		select {
		case ch <- msg:
		default:
			// 订阅者跟不上时丢弃，避免阻塞发布方
		}
	}
	return nil
}

func (m *Memory) Subscribe(topic string) (<-chan Message, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[topic]; !ok {
		m.subs[topic] = make(map[int]chan Message)
	}
	id := m.nextID
	m.nextID++
	ch := make(chan Message, m.buffer)
	m.subs[topic][id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if byTopic, ok := m.subs[topic]; ok {
			if sub, exists := byTopic[id]; exists {
				delete(byTopic, id)
				close(sub)
			}
			if len(byTopic) == 0 {
				delete(m.subs, topic)
			}
		}
	}
	return ch, cancel, nil
}

// Subscribers 返回 topic 当前订阅者数量
func (m *Memory) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}
