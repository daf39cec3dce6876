package chanhub

import (
	"slices"
	"strings"
	"sync"
)

// 传输类型，Router 可按传输类型限定频道
const (
	TransportWebSocket = "websocket"
	TransportLongPoll  = "longpoll"
)

// ChannelFactory 为每个新会话创建一个频道实例
type ChannelFactory func() Channel

// ChannelResolver 将 topic 解析为频道类型，必须是无副作用的查找
type ChannelResolver interface {
	ChannelForTopic(topic, transport string) (ChannelFactory, bool)
}

type route struct {
	pattern    string
	prefix     bool
	factory    ChannelFactory
	transports []string
}

func (r route) match(topic, transport string) bool {
	if len(r.transports) > 0 && !slices.Contains(r.transports, transport) {
		return false
	}
	if r.prefix {
		return strings.HasPrefix(topic, r.pattern)
	}
	return topic == r.pattern
}

// Router 按注册顺序匹配 topic，第一个命中的路由生效
// 模式为精确 topic，或以 * 结尾的前缀（如 "room:*"）
type Router struct {
	Name string

	mu     sync.RWMutex
	routes []route
}

// NewRouter 创建 Router，name 用于日志
func NewRouter(name string) *Router {
	return &Router{Name: name}
}

// Channel 注册频道，transports 为空表示所有传输类型
func (r *Router) Channel(pattern string, factory ChannelFactory, transports ...string) *Router {
	rt := route{pattern: pattern, factory: factory, transports: transports}
	if p, ok := strings.CutSuffix(pattern, "*"); ok {
		rt.pattern = p
		rt.prefix = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, rt)
	return r
}

// ChannelForTopic 实现 ChannelResolver
func (r *Router) ChannelForTopic(topic, transport string) (ChannelFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if rt.match(topic, transport) {
			return rt.factory, true
		}
	}
	return nil, false
}

func (r *Router) String() string {
	if r == nil || r.Name == "" {
		return "router"
	}
	return r.Name
}
