package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyResponse(t *testing.T) {
	ev := classify([]byte(`{"id":"7","result":{"chats":[]}}`))
	resp, ok := ev.(Response)
	require.True(t, ok, "expected Response, got %T", ev)
	assert.Equal(t, "7", resp.ID)
	assert.JSONEq(t, `{"chats":[]}`, string(resp.Result))
}

func TestClassifyNullResultIsResponse(t *testing.T) {
	// Key presence decides the shape: an ack whose result is the
	// literal null is still a Response, not a dead stream.
	ev := classify([]byte(`{"id":"5","result":null}`))
	resp, ok := ev.(Response)
	require.True(t, ok, "expected Response, got %T (%v)", ev, ev)
	assert.Equal(t, "5", resp.ID)
	assert.Equal(t, "null", string(resp.Result))
}

func TestClassifyNonStringIDDegrades(t *testing.T) {
	// A numeric id counts as absent; the frame falls through to the
	// next matching shape instead of failing to parse.
	ev := classify([]byte(`{"id":7,"error":{"code":1,"message":"x"}}`))
	errEv, ok := ev.(ErrorEvent)
	require.True(t, ok, "expected ErrorEvent, got %T", ev)
	assert.Empty(t, errEv.ID)

	ev = classify([]byte(`{"id":7,"method":"message","params":{}}`))
	_, ok = ev.(Notification)
	assert.True(t, ok, "expected Notification, got %T", ev)
}

func TestClassifyTiedError(t *testing.T) {
	ev := classify([]byte(`{"id":"3","error":{"code":42,"message":"no such chat"}}`))
	errEv, ok := ev.(ErrorEvent)
	require.True(t, ok, "expected ErrorEvent, got %T", ev)
	assert.Equal(t, "3", errEv.ID)
	assert.Equal(t, 42, errEv.Err.Code)
	assert.Equal(t, "no such chat", errEv.Err.Message)
}

func TestClassifyUntiedError(t *testing.T) {
	ev := classify([]byte(`{"error":{"code":-1,"message":"backend shutting down"}}`))
	errEv, ok := ev.(ErrorEvent)
	require.True(t, ok, "expected ErrorEvent, got %T", ev)
	assert.Empty(t, errEv.ID)
	assert.Equal(t, -1, errEv.Err.Code)
}

func TestClassifyNotification(t *testing.T) {
	ev := classify([]byte(`{"method":"message","params":{"message":{"chat_id":1}}}`))
	n, ok := ev.(Notification)
	require.True(t, ok, "expected Notification, got %T", ev)
	assert.Equal(t, "message", n.Method)
	assert.Contains(t, string(n.Params), "chat_id")
}

func TestClassifyResponseTakesPrecedence(t *testing.T) {
	// A frame carrying both a response and a notification shape is a
	// Response; the precedence is fixed, not ordering luck.
	ev := classify([]byte(`{"id":"9","result":true,"method":"message","params":{}}`))
	resp, ok := ev.(Response)
	require.True(t, ok, "expected Response, got %T", ev)
	assert.Equal(t, "9", resp.ID)
}

func TestClassifyErrorBeatsNotification(t *testing.T) {
	ev := classify([]byte(`{"id":"4","error":{"code":1,"message":"x"},"method":"message","params":{}}`))
	_, ok := ev.(ErrorEvent)
	assert.True(t, ok, "expected ErrorEvent, got %T", ev)
}

func TestClassifyMalformedLineIsClosed(t *testing.T) {
	for _, line := range []string{
		`{not json`,
		`"just a string"`,
		`[1,2,3]`,
	} {
		ev := classify([]byte(line))
		closed, ok := ev.(Closed)
		if !ok {
			t.Fatalf("classify(%q) = %T, want Closed", line, ev)
		}
		assert.Contains(t, closed.Reason, "json parse error")
	}
}

func TestClassifyUnmatchedShapeIsClosed(t *testing.T) {
	// Parses fine but matches none of the four shapes.
	ev := classify([]byte(`{"id":"5"}`))
	closed, ok := ev.(Closed)
	if !ok {
		t.Fatalf("got %T, want Closed", ev)
	}
	assert.Equal(t, "unrecognized frame shape", closed.Reason)
}

func TestRPCErrorString(t *testing.T) {
	withCode := &RPCError{Code: 7, Message: "nope"}
	assert.Equal(t, "rpc error (7): nope", withCode.Error())

	noCode := &RPCError{Message: "nope"}
	assert.Equal(t, "rpc error: nope", noCode.Error())
}
