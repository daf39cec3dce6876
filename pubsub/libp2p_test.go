package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDiscovery struct {
	closed int
}

func (s *stubDiscovery) Start() error { return nil }

func (s *stubDiscovery) Close() error {
	s.closed++
	return nil
}

func newLoopbackLibp2p(t *testing.T) *Libp2p {
	t.Helper()
	p, err := NewLibp2p(context.Background(), Libp2pOptions{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return p
}

func TestLibp2p_CloseStopsDiscovery(t *testing.T) {
	p := newLoopbackLibp2p(t)
	disc := &stubDiscovery{}
	p.mdnsSvc = disc

	require.NoError(t, p.Close())
	assert.Equal(t, 1, disc.closed)
}

func TestLibp2p_PublishSubscribeLocal(t *testing.T) {
	p := newLoopbackLibp2p(t)
	t.Cleanup(func() { _ = p.Close() })

	ch, cancel, err := p.Subscribe("room:1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, p.Publish("room:1", []byte("hello")))
	select {
	case msg := <-ch:
		assert.Equal(t, "room:1", msg.Topic)
		assert.Equal(t, []byte("hello"), msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for local delivery")
	}

	assert.NotEmpty(t, p.PeerID())
	assert.NotEmpty(t, p.ListenAddrs())
}
