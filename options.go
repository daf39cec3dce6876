package chanhub

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iamxvbaba/chanhub/pubsub"
)

// Options 控制心跳、重连、来源校验等行为，Server 与 Client 共用
type Options struct {
	// 心跳开关与周期：服务端发送 ping，客户端发送协议心跳
	HeartbeatEnabled  bool
	HeartbeatInterval time.Duration

	// 自动重连（客户端），重连后自动重新 join
	ReconnectEnabled    bool
	ReconnectBackoff    time.Duration
	ReconnectMaxBackoff time.Duration

	// 僵尸连接清理（服务端）
	ZombieCleanupEnabled bool
	ZombieCheckInterval  time.Duration
	ZombieMaxIdle        time.Duration

	// WebSocket 端点路径
	Path string
	// Origin 白名单，空表示不限制
	CheckOrigin []string
	// 客户端拨号时携带的 Origin 头
	Origin string
	// 每个连接的下行缓冲长度
	SendBuffer int

	// 广播后端，nil 时使用进程内后端
	PubSub pubsub.PubSub
	// nil 时使用全局 log.Logger
	Logger *zerolog.Logger
}

// DefaultOptions 返回默认配置
func DefaultOptions() Options {
	return Options{
		HeartbeatEnabled:     true,
		HeartbeatInterval:    30 * time.Second,
		ReconnectEnabled:     false,
		ReconnectBackoff:     1 * time.Second,
		ReconnectMaxBackoff:  30 * time.Second,
		ZombieCleanupEnabled: false,
		ZombieCheckInterval:  30 * time.Second,
		ZombieMaxIdle:        2 * time.Minute,
		Path:                 "/socket/websocket",
		SendBuffer:           256,
	}
}

// merge 仅用 opts 的非零值覆盖，开关类字段总是以 opts 为准
func (o Options) merge(opts *Options) Options {
	if opts != nil {
		if opts.HeartbeatInterval != 0 {
			o.HeartbeatInterval = opts.HeartbeatInterval
		}
		o.HeartbeatEnabled = opts.HeartbeatEnabled
		o.ReconnectEnabled = opts.ReconnectEnabled
		if opts.ReconnectBackoff != 0 {
			o.ReconnectBackoff = opts.ReconnectBackoff
		}
		if opts.ReconnectMaxBackoff != 0 {
			o.ReconnectMaxBackoff = opts.ReconnectMaxBackoff
		}
		if opts.ZombieCleanupEnabled {
			o.ZombieCleanupEnabled = true
		}
		if opts.ZombieCheckInterval != 0 {
			o.ZombieCheckInterval = opts.ZombieCheckInterval
		}
		if opts.ZombieMaxIdle != 0 {
			o.ZombieMaxIdle = opts.ZombieMaxIdle
		}
		if opts.Path != "" {
			o.Path = opts.Path
		}
		if len(opts.CheckOrigin) > 0 {
			o.CheckOrigin = append([]string(nil), opts.CheckOrigin...)
		}
		if opts.Origin != "" {
			o.Origin = opts.Origin
		}
		if opts.SendBuffer > 0 {
			o.SendBuffer = opts.SendBuffer
		}
		o.PubSub = opts.PubSub
		o.Logger = opts.Logger
	}
	if o.Logger == nil {
		l := log.Logger
		o.Logger = &l
	}
	return o
}
