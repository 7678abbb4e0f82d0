package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueFIFOOrder(t *testing.T) {
	m := New(4)
	require.NoError(t, m.Enqueue(Envelope{Payload: "first"}))
	require.NoError(t, m.Enqueue(Envelope{Payload: "second"}))

	env, ok := m.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "first", env.Payload)

	env, ok = m.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "second", env.Payload)

	_, ok = m.Dequeue()
	assert.False(t, ok)
}

func TestLenReflectsQueueDepth(t *testing.T) {
	m := New(4)
	assert.Equal(t, 0, m.Len())
	m.Enqueue(Envelope{Payload: 1})
	m.Enqueue(Envelope{Payload: 2})
	assert.Equal(t, 2, m.Len())
}

func TestDequeueBlockingWaitsForEnqueue(t *testing.T) {
	m := New(1)
	result := make(chan Envelope, 1)
	go func() {
		env, _ := m.DequeueBlocking()
		result <- env
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Enqueue(Envelope{Payload: "late"}))

	select {
	case env := <-result:
		assert.Equal(t, "late", env.Payload)
	case <-time.After(time.Second):
		t.Fatal("DequeueBlocking never returned")
	}
}

func TestCloseRejectsFurtherEnqueue(t *testing.T) {
	m := New(1)
	m.Close()
	err := m.Enqueue(Envelope{Payload: "x"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	m := New(1)
	m.Close()
	assert.NotPanics(t, func() { m.Close() })
}

func TestDequeueBlockingReturnsFalseAfterCloseWhenEmpty(t *testing.T) {
	m := New(1)
	m.Close()
	_, ok := m.DequeueBlocking()
	assert.False(t, ok)
}

func TestDequeueBlockingDrainsBufferedBeforeReportingClosed(t *testing.T) {
	m := New(2)
	require.NoError(t, m.Enqueue(Envelope{Payload: "buffered"}))
	m.Close()

	env, ok := m.DequeueBlocking()
	require.True(t, ok)
	assert.Equal(t, "buffered", env.Payload)

	_, ok = m.DequeueBlocking()
	assert.False(t, ok)
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "send", Send.String())
	assert.Equal(t, "call", Call.String())
	assert.Equal(t, "cast", Cast.String())
}
