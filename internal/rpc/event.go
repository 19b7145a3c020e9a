package rpc

import (
	"encoding/json"
	"fmt"
)

// Event is one classified inbound frame. Exactly one of the four
// concrete types is produced for every line read from the backend.
type Event interface {
	event()
}

// Response is a reply carrying the result of a specific request.
type Response struct {
	ID     string
	Result json.RawMessage
}

// ErrorEvent is a backend-reported failure. ID is empty when the
// failure is connection-scoped rather than tied to one request.
type ErrorEvent struct {
	ID  string
	Err RPCError
}

// Notification is a server-initiated push with no request identifier.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Closed signals that the connection is no longer usable.
type Closed struct {
	Reason string
}

func (Response) event()     {}
func (ErrorEvent) event()   {}
func (Notification) event() {}
func (Closed) event()       {}

// RPCError carries the backend's code and message verbatim.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("rpc error (%d): %s", e.Code, e.Message)
	}
	return "rpc error: " + e.Message
}

// classify parses one wire line into an Event. Key presence decides
// the shape, not the value: a reply whose result is the literal null
// is still a Response. The precedence is fixed: id+result, id+error,
// untied error, then method. A malformed frame carrying both response
// and notification fields classifies as a Response. Lines that parse
// but match no shape, like lines that do not parse at all, yield
// Closed.
func classify(line []byte) Event {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Closed{Reason: "json parse error: " + err.Error()}
	}
	// A non-string id or method counts as absent; the frame degrades
	// to the next matching shape rather than tearing the stream down.
	id, hasID := stringField(fields, "id")
	result, hasResult := fields["result"]
	rawErr, hasErr := fields["error"]
	method, hasMethod := stringField(fields, "method")

	switch {
	case hasID && hasResult:
		return Response{ID: id, Result: result}
	case hasID && hasErr:
		return ErrorEvent{ID: id, Err: decodeError(rawErr)}
	case hasErr:
		return ErrorEvent{Err: decodeError(rawErr)}
	case hasMethod:
		return Notification{Method: method, Params: fields["params"]}
	default:
		return Closed{Reason: "unrecognized frame shape"}
	}
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeError(raw json.RawMessage) RPCError {
	var e RPCError
	_ = json.Unmarshal(raw, &e)
	return e
}
