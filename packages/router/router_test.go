package router

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronosim/core/clock"
	"github.com/chronosim/core/mailbox"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

type captureTarget struct {
	received []mailbox.Envelope
}

func (c *captureTarget) Deliver(msg any) {
	c.received = append(c.received, msg.(mailbox.Envelope))
}

func TestRegisterAndSendDeliversEnvelope(t *testing.T) {
	clk := clock.New()
	r := New(clk, testLogger())
	target := &captureTarget{}

	require.NoError(t, r.Register("consumer", target))

	ref, ok := r.Send("producer", "consumer", "hello", mailbox.Send, 10)
	assert.True(t, ok)
	assert.NotZero(t, ref)

	clk.Advance(10)
	require.Len(t, target.received, 1)
	assert.Equal(t, "producer", target.received[0].From)
	assert.Equal(t, "consumer", target.received[0].To)
	assert.Equal(t, "hello", target.received[0].Payload)
}

func TestRegisterDuplicateActorFails(t *testing.T) {
	clk := clock.New()
	r := New(clk, testLogger())
	require.NoError(t, r.Register("a", &captureTarget{}))

	err := r.Register("a", &captureTarget{})
	require.Error(t, err)
	var dup *ErrDuplicateActor
	assert.ErrorAs(t, err, &dup)
}

func TestSendToUnknownTargetIsDroppedSilently(t *testing.T) {
	clk := clock.New()
	r := New(clk, testLogger())

	ref, ok := r.Send("producer", "ghost", "x", mailbox.Send, 0)
	assert.False(t, ok)
	assert.Zero(t, ref)
}

func TestUnregisterRemovesTarget(t *testing.T) {
	clk := clock.New()
	r := New(clk, testLogger())
	target := &captureTarget{}
	require.NoError(t, r.Register("a", target))
	assert.True(t, r.Has("a"))

	r.Unregister("a")
	assert.False(t, r.Has("a"))

	_, ok := r.Send("x", "a", "payload", mailbox.Send, 0)
	assert.False(t, ok)
}

func TestSendEnvelopeCarriesCausalVector(t *testing.T) {
	clk := clock.New()
	r := New(clk, testLogger())
	target := &captureTarget{}
	require.NoError(t, r.Register("consumer", target))

	vector := map[string]uint64{"producer": 1}
	ref, ok := r.SendEnvelope(mailbox.Envelope{From: "producer", To: "consumer", Type: mailbox.Send, Payload: "hi", Causal: vector}, 0)
	assert.True(t, ok)
	assert.NotZero(t, ref)

	clk.AdvanceToNext()
	require.Len(t, target.received, 1)
	assert.Equal(t, vector, target.received[0].Causal)
}

func TestSendEnvelopeToUnknownTargetIsDroppedSilently(t *testing.T) {
	clk := clock.New()
	r := New(clk, testLogger())

	ref, ok := r.SendEnvelope(mailbox.Envelope{From: "producer", To: "ghost", Type: mailbox.Send, Payload: "x"}, 0)
	assert.False(t, ok)
	assert.Zero(t, ref)
}

func TestNamesReturnsAllRegistered(t *testing.T) {
	clk := clock.New()
	r := New(clk, testLogger())
	require.NoError(t, r.Register("a", &captureTarget{}))
	require.NoError(t, r.Register("b", &captureTarget{}))

	assert.ElementsMatch(t, []string{"a", "b"}, r.Names())
}
