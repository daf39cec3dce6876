package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_PublishFansOut(t *testing.T) {
	m := NewMemory()

	a, cancelA, err := m.Subscribe("room:1")
	require.NoError(t, err)
	defer cancelA()
	b, cancelB, err := m.Subscribe("room:1")
	require.NoError(t, err)
	defer cancelB()
	other, cancelOther, err := m.Subscribe("room:2")
	require.NoError(t, err)
	defer cancelOther()

	require.NoError(t, m.Publish("room:1", []byte("hello")))

	assert.Equal(t, Message{Topic: "room:1", Payload: []byte("hello")}, <-a)
	assert.Equal(t, Message{Topic: "room:1", Payload: []byte("hello")}, <-b)
	assert.Empty(t, other)
}

func TestMemory_PublishCopiesPayload(t *testing.T) {
	m := NewMemory()
	ch, cancel, err := m.Subscribe("t")
	require.NoError(t, err)
	defer cancel()

	payload := []byte("abc")
	require.NoError(t, m.Publish("t", payload))
	payload[0] = 'x'

	assert.Equal(t, "abc", string((<-ch).Payload))
}

func TestMemory_CancelClosesAndForgetsTopic(t *testing.T) {
	m := NewMemory()
	ch, cancel, err := m.Subscribe("t")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Subscribers("t"))

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, m.Subscribers("t"))
	assert.NoError(t, m.Publish("t", []byte("dropped")))
}

func TestMemory_SlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewMemoryWithBuffer(1)
	ch, cancel, err := m.Subscribe("t")
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Publish("t", []byte{byte(i)}))
	}

	assert.Len(t, ch, 1)
	assert.Equal(t, []byte{0}, (<-ch).Payload)
}
