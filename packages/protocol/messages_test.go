package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronosim/core/mailbox"
	"github.com/chronosim/trace"
)

func TestParseMessageReadsType(t *testing.T) {
	data := []byte(`{"type":"run_simulation","scenario":"producer-consumer"}`)
	typ, err := ParseMessage(data)
	require.NoError(t, err)
	assert.Equal(t, MsgRunSimulation, typ)
}

func TestParseRunSimulationDecodesFields(t *testing.T) {
	data := []byte(`{"type":"run_simulation","scenario":"ticker","durationMs":1000,"trace":true}`)
	req, err := ParseRunSimulation(data)
	require.NoError(t, err)
	assert.Equal(t, "ticker", req.Scenario)
	assert.Equal(t, int64(1000), req.Duration)
	assert.True(t, req.Trace)
}

func TestParseStopSimulationDecodesRunID(t *testing.T) {
	data := []byte(`{"type":"stop_simulation","runId":"abc"}`)
	req, err := ParseStopSimulation(data)
	require.NoError(t, err)
	assert.Equal(t, "abc", req.RunID)
}

func TestNewErrorBuildsErrorResponse(t *testing.T) {
	e := NewError("invalid_pattern", "interval must be positive")
	assert.Equal(t, MsgError, e.Type)
	assert.Equal(t, "invalid_pattern", e.Code)
}

func TestToJSONRoundTrips(t *testing.T) {
	req := &RunStartedResponse{Type: MsgRunStarted, RunID: "r1", Scenario: "s", Actors: []string{"a", "b"}}
	data, err := ToJSON(req)
	require.NoError(t, err)

	typ, err := ParseMessage(data)
	require.NoError(t, err)
	assert.Equal(t, MsgRunStarted, typ)
}

func TestNewTraceEventResponseMirrorsTraceEvent(t *testing.T) {
	ev := trace.TraceEvent{Timestamp: 250, From: "producer", To: "consumer", Type: mailbox.Send, Message: "tick"}
	resp := NewTraceEventResponse("run-1", ev)

	assert.Equal(t, MsgTraceEvent, resp.Type)
	assert.Equal(t, int64(250), resp.Timestamp)
	assert.Equal(t, "producer", resp.From)
	assert.Equal(t, "send", resp.Kind)
	assert.Equal(t, "tick", resp.Payload)
}
