package main

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iamxvbaba/chanhub"
)

func newRouter() *chanhub.Router {
	return chanhub.NewRouter("chanhubd").
		Channel("lobby", func() chanhub.Channel { return &lobbyChannel{} }).
		Channel("room:*", func() chanhub.Channel { return &roomChannel{} })
}

// lobbyChannel 接收服务端定时广播
type lobbyChannel struct{}

func (c *lobbyChannel) Join(payload json.RawMessage, sock *chanhub.Socket) (any, error) {
	return map[string]string{"conn_id": sock.ConnID}, nil
}

func (c *lobbyChannel) HandleIn(event string, payload json.RawMessage, sock *chanhub.Socket) error {
	return nil
}

func (c *lobbyChannel) Terminate(reason string, sock *chanhub.Socket) {}

// roomChannel 为简单聊天室：shout 广播给房间其他成员，ping 直接应答
type roomChannel struct{}

type joinParams struct {
	Name string `json:"name"`
}

type shout struct {
	From string          `json:"from"`
	Body json.RawMessage `json:"body"`
	At   time.Time       `json:"at"`
}

func (c *roomChannel) Join(payload json.RawMessage, sock *chanhub.Socket) (any, error) {
	var p joinParams
	_ = json.Unmarshal(payload, &p)
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = sock.ConnID
	}
	sock.Assigns["name"] = name
	_ = sock.BroadcastFrom("joined", map[string]string{"name": name})
	return map[string]string{"room": strings.TrimPrefix(sock.Topic, "room:"), "name": name}, nil
}

func (c *roomChannel) HandleIn(event string, payload json.RawMessage, sock *chanhub.Socket) error {
	name, _ := sock.Assigns["name"].(string)
	switch event {
	case "shout":
		return sock.BroadcastFrom("shout", shout{From: name, Body: payload, At: time.Now().UTC()})
	case "ping":
		return sock.Reply("ok", map[string]string{"pong": name})
	case "quit":
		return chanhub.ErrStop
	}
	log.Debug().Str("topic", sock.Topic).Str("event", event).Msg("unhandled room event")
	return nil
}

func (c *roomChannel) Terminate(reason string, sock *chanhub.Socket) {
	name, _ := sock.Assigns["name"].(string)
	_ = sock.BroadcastFrom("left", map[string]string{"name": name, "reason": reason})
}
