package chanhub

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamxvbaba/chanhub/pubsub"
)

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "joining", StateJoining.String())
	assert.Equal(t, "joined", StateJoined.String())
	assert.Equal(t, "leaving", StateLeaving.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "state(9)", SessionState(9).String())
}

func TestSession_CrashIsIsolated(t *testing.T) {
	conn := newRecorder()

	bad := newTestChannel()
	bad.handle = func(event string, _ json.RawMessage, _ *Socket) error {
		if event == "boom" {
			panic("handler exploded")
		}
		return nil
	}
	good := newTestChannel()

	router := NewRouter("test").
		Channel("bad", func() Channel { return bad }).
		Channel("good", func() Channel { return good })
	d := newTestDispatcher(router, nil)

	badSession := d.Dispatch(nil, joinMsg("bad"), conn).Session
	goodSession := d.Dispatch(nil, joinMsg("good"), conn).Session
	require.NotNil(t, badSession)
	require.NotNil(t, goodSession)

	assert.NotPanics(t, func() {
		d.Dispatch(badSession, Message{Topic: "bad", Event: "boom"}, conn)
	})

	e := recv(t, conn.exits)
	assert.Equal(t, "bad", e.Topic)
	assert.Same(t, badSession, e.Session)
	assert.Error(t, e.Err)
	assert.Equal(t, "crash", recv(t, bad.terminated))
	assert.Equal(t, StateTerminated, badSession.State())
	assert.True(t, conn.has("bad", EventError))

	d.Dispatch(goodSession, Message{Topic: "good", Event: "still-here"}, conn)
	assert.Equal(t, "still-here", recv(t, good.events))
	assert.Equal(t, StateJoined, goodSession.State())
}

func TestSession_HandlerErrorIsAbnormal(t *testing.T) {
	ch := newTestChannel()
	ch.handle = func(string, json.RawMessage, *Socket) error { return errors.New("broken") }
	d := newTestDispatcher(newCountingRouter("room:1", ch), nil)
	conn := newRecorder()

	s := d.Dispatch(nil, joinMsg("room:1"), conn).Session
	require.NotNil(t, s)
	s.Send("anything", nil, "")

	e := recv(t, conn.exits)
	assert.EqualError(t, e.Err, "broken")
	assert.False(t, s.Send("late", nil, ""), "terminated session drops messages")
}

func TestSession_VoluntaryStop(t *testing.T) {
	ch := newTestChannel()
	ch.handle = func(event string, _ json.RawMessage, _ *Socket) error {
		if event == "bye" {
			return ErrStop
		}
		return nil
	}
	d := newTestDispatcher(newCountingRouter("room:1", ch), nil)
	conn := newRecorder()

	s := d.Dispatch(nil, joinMsg("room:1"), conn).Session
	require.NotNil(t, s)
	s.Send("bye", nil, "")

	e := recv(t, conn.exits)
	assert.NoError(t, e.Err)
	assert.Equal(t, "stop", e.Reason)
	assert.Equal(t, "stop", recv(t, ch.terminated))
	assert.True(t, conn.has("room:1", EventClose))
	assert.False(t, conn.has("room:1", EventError))
}

func TestSession_ReplyCarriesRef(t *testing.T) {
	ch := newTestChannel()
	ch.handle = func(event string, payload json.RawMessage, sock *Socket) error {
		return sock.Reply("ok", payload)
	}
	d := newTestDispatcher(newCountingRouter("room:1", ch), nil)
	conn := newRecorder()

	s := d.Dispatch(nil, joinMsg("room:1"), conn).Session
	require.NotNil(t, s)
	d.Dispatch(s, Message{Topic: "room:1", Event: "ping", Payload: json.RawMessage(`{"n":1}`), Ref: "42"}, conn)
	recv(t, ch.events)

	reply, ok := conn.find("room:1", EventReply)
	require.True(t, ok)
	assert.Equal(t, "42", reply.Ref)
	assert.JSONEq(t, `{"status":"ok","response":{"n":1}}`, string(reply.Payload))
}

func TestSession_BroadcastRelay(t *testing.T) {
	ps := pubsub.NewMemory()
	shouter := newTestChannel()
	shouter.handle = func(event string, payload json.RawMessage, sock *Socket) error {
		switch event {
		case "shout":
			return sock.BroadcastFrom("shout", payload)
		case "all":
			return sock.Broadcast("all", payload)
		}
		return nil
	}
	listener := newTestChannel()

	connA, connB := newRecorder(), newRecorder()
	a := newTestDispatcher(NewRouter("a").Channel("room:1", func() Channel { return shouter }), ps).
		Dispatch(nil, joinMsg("room:1"), connA).Session
	b := newTestDispatcher(NewRouter("b").Channel("room:1", func() Channel { return listener }), ps).
		Dispatch(nil, joinMsg("room:1"), connB).Session
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, 2, ps.Subscribers("room:1"))

	a.Send("shout", json.RawMessage(`{"msg":"hi"}`), "")
	require.Eventually(t, func() bool { return connB.has("room:1", "shout") }, waitTimeout, 10*time.Millisecond)
	msg, _ := connB.find("room:1", "shout")
	assert.JSONEq(t, `{"msg":"hi"}`, string(msg.Payload))

	a.Send("all", nil, "")
	require.Eventually(t, func() bool {
		return connA.has("room:1", "all") && connB.has("room:1", "all")
	}, waitTimeout, 10*time.Millisecond)
	assert.False(t, connA.has("room:1", "shout"), "BroadcastFrom skips the sender")

	b.Send(EventLeave, nil, "")
	recv(t, b.Done())
	assert.Equal(t, 1, ps.Subscribers("room:1"))
}

type filteringChannel struct {
	*testChannel
}

func (c filteringChannel) HandleOut(event string, _ json.RawMessage, sock *Socket) bool {
	return event != "secret"
}

func TestSession_OutboundInterceptor(t *testing.T) {
	ps := pubsub.NewMemory()
	ch := filteringChannel{newTestChannel()}
	d := newTestDispatcher(NewRouter("").Channel("room:1", func() Channel { return ch }), ps)
	conn := newRecorder()
	require.NotNil(t, d.Dispatch(nil, joinMsg("room:1"), conn).Session)

	secret, err := encodeBroadcast("secret", nil, "")
	require.NoError(t, err)
	public, err := encodeBroadcast("public", nil, "")
	require.NoError(t, err)
	require.NoError(t, ps.Publish("room:1", secret))
	require.NoError(t, ps.Publish("room:1", public))

	require.Eventually(t, func() bool { return conn.has("room:1", "public") }, waitTimeout, 10*time.Millisecond)
	assert.False(t, conn.has("room:1", "secret"))
}

func TestSocket_BroadcastWithoutPubSub(t *testing.T) {
	ch := newTestChannel()
	errs := make(chan error, 1)
	ch.handle = func(_ string, _ json.RawMessage, sock *Socket) error {
		errs <- sock.Broadcast("x", nil)
		return nil
	}
	d := newTestDispatcher(newCountingRouter("room:1", ch), nil)
	s := d.Dispatch(nil, joinMsg("room:1"), newRecorder()).Session
	require.NotNil(t, s)
	s.Send("go", nil, "")
	assert.ErrorIs(t, recv(t, errs), ErrNoPubSub)
}
