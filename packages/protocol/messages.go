// Package protocol defines the wire messages the observer's WebSocket hub
// exchanges with a browser client. It is chronosim's narrowing of the
// teacher's protocol package to this runtime's vocabulary: a Simulation run
// has no nodes/roles/terms/partitions to report, only actors, trace events,
// and stats, so the teacher's Raft/CRDT/two-generals-flavored message
// catalog is replaced wholesale rather than generalized.
package protocol

import (
	"encoding/json"

	"github.com/chronosim/trace"
)

// MessageType identifies the shape of a message on the wire.
type MessageType string

// Client -> Server.
const (
	MsgRunSimulation  MessageType = "run_simulation"
	MsgStopSimulation MessageType = "stop_simulation"
	MsgGetState       MessageType = "get_state"
)

// Server -> Client.
const (
	MsgRunStarted    MessageType = "run_started"
	MsgTraceEvent    MessageType = "trace_event"
	MsgStatsSnapshot MessageType = "stats_snapshot"
	MsgRunFinished   MessageType = "run_finished"
	MsgError         MessageType = "error"
)

// BaseMessage is embedded (conceptually) by every message; ParseMessage
// reads just this much to dispatch on Type.
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// RunSimulationRequest asks the observer to build and run a Simulation from
// a named scenario definition.
type RunSimulationRequest struct {
	Type     MessageType `json:"type"`
	Scenario string      `json:"scenario"`
	Duration int64       `json:"durationMs,omitempty"`
	Trace    bool        `json:"trace,omitempty"`
}

// StopSimulationRequest asks the observer to stop a running simulation.
type StopSimulationRequest struct {
	Type  MessageType `json:"type"`
	RunID string      `json:"runId"`
}

// RunStartedResponse acknowledges a run has begun.
type RunStartedResponse struct {
	Type     MessageType `json:"type"`
	RunID    string      `json:"runId"`
	Scenario string      `json:"scenario"`
	Actors   []string    `json:"actors"`
}

// TraceEventResponse mirrors one trace.TraceEvent onto the wire.
type TraceEventResponse struct {
	Type      MessageType `json:"type"`
	RunID     string      `json:"runId"`
	Timestamp int64       `json:"timestamp"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Kind      string      `json:"kind"`
	Payload   any         `json:"payload,omitempty"`
}

// ActorStats mirrors one actor's simulation.Stats snapshot.
type ActorStats struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	SentCount     uint64 `json:"sentCount"`
	ReceivedCount uint64 `json:"receivedCount"`
}

// StatsSnapshotResponse reports a point-in-time aggregate across actors.
type StatsSnapshotResponse struct {
	Type        MessageType  `json:"type"`
	RunID       string       `json:"runId"`
	VirtualTime int64        `json:"virtualTime"`
	Actors      []ActorStats `json:"actors"`
}

// RunFinishedResponse reports how a run ended.
type RunFinishedResponse struct {
	Type              MessageType  `json:"type"`
	RunID             string       `json:"runId"`
	TerminationReason string       `json:"terminationReason"`
	ActualDuration    int64        `json:"actualDurationMs"`
	RealTimeElapsed   int64        `json:"realTimeElapsedMs"`
	Actors            []ActorStats `json:"actors"`
}

// ErrorResponse reports a protocol- or run-level error.
type ErrorResponse struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// ParseMessage reads just the Type discriminator from a raw frame.
func ParseMessage(data []byte) (MessageType, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return "", err
	}
	return base.Type, nil
}

// ParseRunSimulation decodes a RunSimulationRequest frame.
func ParseRunSimulation(data []byte) (*RunSimulationRequest, error) {
	var msg RunSimulationRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ParseStopSimulation decodes a StopSimulationRequest frame.
func ParseStopSimulation(data []byte) (*StopSimulationRequest, error) {
	var msg StopSimulationRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// NewError builds an ErrorResponse frame.
func NewError(code, message string) *ErrorResponse {
	return &ErrorResponse{Type: MsgError, Code: code, Message: message}
}

// ToJSON serializes any response struct for writing to a websocket frame.
func ToJSON(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

// NewTraceEventResponse builds the wire form of a recorded trace.TraceEvent.
func NewTraceEventResponse(runID string, ev trace.TraceEvent) *TraceEventResponse {
	return &TraceEventResponse{
		Type:      MsgTraceEvent,
		RunID:     runID,
		Timestamp: int64(ev.Timestamp),
		From:      ev.From,
		To:        ev.To,
		Kind:      ev.Type.String(),
		Payload:   ev.Message,
	}
}
