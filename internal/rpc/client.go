package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"sync"

	"github.com/imsgkit/imsgtui/internal/logger"
)

// ErrClientClosed is returned by Send once Close has been called.
var ErrClientClosed = errors.New("rpc client closed")

const (
	// queueDepth bounds the in-memory request and event queues. Both
	// are drained continuously, so the bound is never hit in practice.
	queueDepth = 256

	// maxLineBytes caps a single inbound frame.
	maxLineBytes = 1024 * 1024
)

// request is the outbound wire shape. The version tag is written but
// never interpreted by either side.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Client frames and dispatches the line protocol over one Conn. It runs
// exactly two goroutines: a writer loop consuming the outbound queue in
// submission order, and a reader loop classifying inbound lines onto
// the event channel. The Client is purely mechanical; callers attach
// meaning to identifiers themselves.
type Client struct {
	conn     *Conn
	ids      *IDSource
	outgoing chan []byte
	events   chan Event
	done     chan struct{}
	once     sync.Once
	log      *logger.Logger
}

// NewClient starts the writer and reader loops for conn. The IDSource
// is injected so that identifiers stay unique across replacement
// clients after a reconnect.
func NewClient(conn *Conn, ids *IDSource) *Client {
	c := &Client{
		conn:     conn,
		ids:      ids,
		outgoing: make(chan []byte, queueDepth),
		events:   make(chan Event, queueDepth),
		done:     make(chan struct{}),
		log:      logger.Global().WithPrefix("rpc"),
	}
	go c.writePump()
	go c.readPump()
	return c
}

// Send enqueues one request and returns its identifier immediately,
// before any I/O happens, so the caller can register the id ahead of
// any possible reply. A closed client returns ErrClientClosed; the
// request was not written and must not be registered.
func (c *Client) Send(method string, params any) (string, error) {
	id := c.ids.Next()
	payload, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return "", err
	}
	select {
	case <-c.done:
		return "", ErrClientClosed
	default:
	}
	select {
	case c.outgoing <- payload:
		return id, nil
	case <-c.done:
		return "", ErrClientClosed
	}
}

// Events returns the channel the reader loop publishes classified
// frames on. Consumers drain it non-blockingly on their own tick.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close tears down the transport. A concurrent reader observes the
// closure and emits a final Closed event; callers that initiated the
// close themselves simply stop draining.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.conn.Close()
}

// writePump writes queued requests newline-terminated, flushing after
// every write. It terminates silently on write failure: a dead writer
// implies a dead duplex that the reader loop will also observe.
func (c *Client) writePump() {
	w := bufio.NewWriter(c.conn.w)
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.outgoing:
			if _, err := w.Write(payload); err != nil {
				c.log.Debug("write failed: %v", err)
				return
			}
			if err := w.WriteByte('\n'); err != nil {
				c.log.Debug("write failed: %v", err)
				return
			}
			if err := w.Flush(); err != nil {
				c.log.Debug("flush failed: %v", err)
				return
			}
		}
	}
}

// readPump reads newline-terminated frames, classifies each and emits
// the event. A parse failure poisons the stream's framing, so it ends
// the loop just like end-of-stream does, via a Closed event.
func (c *Client) readPump() {
	scanner := bufio.NewScanner(c.conn.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev := classify(line)
		c.emit(ev)
		if _, closed := ev.(Closed); closed {
			return
		}
	}
	reason := "rpc stream closed"
	if err := scanner.Err(); err != nil {
		reason = "read error: " + err.Error()
	}
	c.emit(Closed{Reason: reason})
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
