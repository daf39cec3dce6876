package chanhub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamxvbaba/chanhub/pubsub"
)

const waitTimeout = 2 * time.Second

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %T", *new(T))
	}
	var zero T
	return zero
}

type testChannel struct {
	joinErr    error
	joinPanic  bool
	handle     func(event string, payload json.RawMessage, sock *Socket) error
	events     chan string
	terminated chan string
}

func newTestChannel() *testChannel {
	return &testChannel{
		events:     make(chan string, 32),
		terminated: make(chan string, 4),
	}
}

func (c *testChannel) Join(payload json.RawMessage, sock *Socket) (any, error) {
	if c.joinPanic {
		panic("join exploded")
	}
	if c.joinErr != nil {
		return nil, c.joinErr
	}
	return map[string]string{"topic": sock.Topic}, nil
}

func (c *testChannel) HandleIn(event string, payload json.RawMessage, sock *Socket) error {
	if c.handle != nil {
		if err := c.handle(event, payload, sock); err != nil {
			return err
		}
	}
	c.events <- event
	return nil
}

func (c *testChannel) Terminate(reason string, sock *Socket) {
	c.terminated <- reason
}

// countingRouter 记录 factory 调用次数
type countingRouter struct {
	*Router
	created atomic.Int32
}

func newCountingRouter(pattern string, ch *testChannel) *countingRouter {
	r := &countingRouter{Router: NewRouter("test-router")}
	r.Channel(pattern, func() Channel {
		r.created.Add(1)
		return ch
	})
	return r
}

type recorder struct {
	mu     sync.Mutex
	pushed []Message
	exits  chan Exit
}

func newRecorder() *recorder {
	return &recorder{exits: make(chan Exit, 16)}
}

func (r *recorder) ConnID() string { return "conn-1" }

func (r *recorder) Push(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushed = append(r.pushed, msg)
	return nil
}

func (r *recorder) SessionExited(e Exit) { r.exits <- e }

func (r *recorder) find(topic, event string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.pushed {
		if m.Topic == topic && m.Event == event {
			return m, true
		}
	}
	return Message{}, false
}

func (r *recorder) has(topic, event string) bool {
	_, ok := r.find(topic, event)
	return ok
}

func newTestDispatcher(router ChannelResolver, ps pubsub.PubSub) *Dispatcher {
	return &Dispatcher{
		Router:    router,
		PubSub:    ps,
		Transport: TransportWebSocket,
		Logger:    zerolog.Nop(),
	}
}

func joinMsg(topic string) Message {
	return Message{Topic: topic, Event: EventJoin, Payload: emptyPayload, Ref: "1"}
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
