package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imsgkit/imsgtui/internal/rpc"
)

// fakeClock is a manually advanced clock for backoff timing.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// backend is the server side of one in-memory connection.
type backend struct {
	t    *testing.T
	conn net.Conn
	sc   *bufio.Scanner
}

type backendRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (b *backend) read() backendRequest {
	b.t.Helper()
	lines := make(chan string, 1)
	go func() {
		if b.sc.Scan() {
			lines <- b.sc.Text()
		} else {
			close(lines)
		}
	}()
	select {
	case line, ok := <-lines:
		if !ok {
			b.t.Fatalf("backend stream ended: %v", b.sc.Err())
		}
		var req backendRequest
		require.NoError(b.t, json.Unmarshal([]byte(line), &req))
		return req
	case <-time.After(2 * time.Second):
		b.t.Fatal("timed out waiting for a request")
		return backendRequest{}
	}
}

func (b *backend) send(v any) {
	b.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(b.t, err)
	_, err = b.conn.Write(append(data, '\n'))
	require.NoError(b.t, err)
}

func (b *backend) respond(id string, result any) {
	b.send(map[string]any{"id": id, "result": result})
}

func (b *backend) close() {
	_ = b.conn.Close()
}

// dialer hands out in-memory connections and records how often it was
// asked for one.
type dialer struct {
	t        *testing.T
	mu       sync.Mutex
	backends chan *backend
	calls    int
	fail     bool
}

func newDialer(t *testing.T) *dialer {
	return &dialer{t: t, backends: make(chan *backend, 4)}
}

func (d *dialer) dial() (*rpc.Conn, error) {
	d.mu.Lock()
	d.calls++
	fail := d.fail
	d.mu.Unlock()
	if fail {
		return nil, &rpc.ConnectError{Addr: "test", Err: fmt.Errorf("refused")}
	}
	local, remote := net.Pipe()
	b := &backend{t: d.t, conn: remote, sc: bufio.NewScanner(remote)}
	d.backends <- b
	return rpc.NewConn(local), nil
}

func (d *dialer) dialCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *dialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *dialer) backend() *backend {
	select {
	case b := <-d.backends:
		return b
	case <-time.After(2 * time.Second):
		d.t.Fatal("no backend connection was dialed")
		return nil
	}
}

// drainUntil ticks the coordinator until cond holds or the deadline
// passes. Drain never blocks, so this polls the way the UI loop does.
func drainUntil(t *testing.T, co *Coordinator, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		co.Drain()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never held; status=%q", co.Status)
}

// newTestCoordinator connects a Coordinator to a scripted backend and
// settles the bootstrap chats.list exchange.
func newTestCoordinator(t *testing.T, opts Options) (*Coordinator, *dialer, *backend) {
	t.Helper()
	d := newDialer(t)
	if opts.Now == nil {
		opts.Now = newFakeClock().Now
	}
	co := New(d.dial, opts)
	require.NoError(t, co.Connect())
	b := d.backend()
	t.Cleanup(func() { _ = co.Close() })
	return co, d, b
}

func chatFixture(id int64, name string) map[string]any {
	return map[string]any{
		"id":              id,
		"name":            name,
		"identifier":      fmt.Sprintf("+1555%04d", id),
		"last_message_at": "2026-01-01T00:00:00Z",
		"service":         "iMessage",
	}
}

func msgFixture(chatID int64, guid, sender, text string, fromMe bool) map[string]any {
	return map[string]any{
		"chat_id":    chatID,
		"guid":       guid,
		"sender":     sender,
		"text":       text,
		"created_at": "2026-01-01T00:00:00Z",
		"is_from_me": fromMe,
	}
}

func TestBackoffDelayTable(t *testing.T) {
	want := []int{2, 4, 8, 16, 30, 30, 30, 30, 30, 30, 30}
	for n, secs := range want {
		assert.Equal(t, time.Duration(secs)*time.Second, backoffDelay(n), "delay(%d)", n)
	}
}

func TestConnectBootstrapsChatList(t *testing.T) {
	co, _, b := newTestCoordinator(t, Options{})
	assert.Equal(t, "loading chats...", co.Status)

	req := b.read()
	assert.Equal(t, "chats.list", req.Method)
	assert.JSONEq(t, `{"limit":50}`, string(req.Params))

	b.respond(req.ID, map[string]any{"chats": []any{chatFixture(7, "Ada")}})
	drainUntil(t, co, func() bool { return co.Status == "chats loaded" })
	require.Len(t, co.Chats, 1)
	assert.Equal(t, int64(7), co.Chats[0].ID)
	assert.Equal(t, "Ada", co.Chats[0].Name)
}

func TestUnknownIDIsDiscarded(t *testing.T) {
	co, _, b := newTestCoordinator(t, Options{})
	req := b.read()
	b.respond(req.ID, map[string]any{"chats": []any{chatFixture(1, "x")}})
	drainUntil(t, co, func() bool { return co.Status == "chats loaded" })

	before := len(co.Chats)
	b.respond("99999", map[string]any{"chats": []any{}})
	// Give the reply time to arrive, then confirm it had no effect.
	time.Sleep(50 * time.Millisecond)
	co.Drain()
	assert.Len(t, co.Chats, before)
	assert.Equal(t, "chats loaded", co.Status)
}

func TestAlreadyResolvedIDIsDiscarded(t *testing.T) {
	co, _, b := newTestCoordinator(t, Options{})
	req := b.read()
	b.respond(req.ID, map[string]any{"chats": []any{chatFixture(1, "x")}})
	drainUntil(t, co, func() bool { return len(co.Chats) == 1 })

	// A duplicate reply for a consumed id is inert.
	b.respond(req.ID, map[string]any{"chats": []any{}})
	time.Sleep(50 * time.Millisecond)
	co.Drain()
	assert.Len(t, co.Chats, 1)
}

func TestUntiedErrorBecomesStatus(t *testing.T) {
	co, _, b := newTestCoordinator(t, Options{})
	b.send(map[string]any{"error": map[string]any{"code": 13, "message": "db locked"}})
	drainUntil(t, co, func() bool { return co.Status == "rpc error (13): db locked" })
}

func TestTiedErrorRoutedToIntent(t *testing.T) {
	co, _, b := newTestCoordinator(t, Options{})
	req := b.read()
	b.send(map[string]any{"id": req.ID, "error": map[string]any{"code": 2, "message": "nope"}})
	drainUntil(t, co, func() bool { return co.Status == "rpc error (2): nope" })
}

func TestContactLookupErrorsDegradeGracefully(t *testing.T) {
	co, _, b := newTestCoordinator(t, Options{})
	boot := b.read()
	b.respond(boot.ID, map[string]any{"chats": []any{}})
	drainUntil(t, co, func() bool { return co.Status == "chats loaded" })

	co.SearchContacts("ada")
	req := b.read()
	assert.Equal(t, "contacts.search", req.Method)
	b.send(map[string]any{"id": req.ID, "error": map[string]any{"code": 1, "message": "unavailable"}})
	drainUntil(t, co, func() bool { return co.Status == "contact search unavailable; enter handle" })

	query, ok := co.TakeFailedSearch()
	assert.True(t, ok)
	assert.Equal(t, "ada", query)
	_, again := co.TakeFailedSearch()
	assert.False(t, again, "failed query must be handed out once")
}

func TestHistoryTriggersContactResolution(t *testing.T) {
	co, _, b := newTestCoordinator(t, Options{})
	boot := b.read()
	b.respond(boot.ID, map[string]any{"chats": []any{chatFixture(7, "")}})
	drainUntil(t, co, func() bool { return co.Status == "chats loaded" })

	co.RequestHistory(7)
	req := b.read()
	assert.Equal(t, "messages.history", req.Method)
	b.respond(req.ID, map[string]any{"messages": []any{
		msgFixture(7, "G1", "+15550001", "hello", false),
		msgFixture(7, "G2", "+15550001", "again", false),
		msgFixture(7, "G3", "", "me", true),
	}})
	drainUntil(t, co, func() bool { return co.Status == "history loaded" })
	assert.Len(t, co.Messages, 3)

	resolve := b.read()
	assert.Equal(t, "contacts.resolve", resolve.Method)
	// The duplicate and the empty sender are both filtered.
	assert.JSONEq(t, `{"handles":["+15550001"]}`, string(resolve.Params))

	b.respond(resolve.ID, map[string]any{"contacts": []any{
		map[string]any{"handle": "+15550001", "name": "Grace"},
	}})
	drainUntil(t, co, func() bool { return co.Contacts["+15550001"] == "Grace" })
	assert.Equal(t, "Grace", co.DisplayName("+15550001"))
	assert.Equal(t, "+19999", co.DisplayName("+19999"))
}

func TestNotificationMembershipFilter(t *testing.T) {
	recorded := &recordingNotifier{}
	co, _, b := newTestCoordinator(t, Options{Alerts: true, Notifier: recorded})
	boot := b.read()
	b.respond(boot.ID, map[string]any{"chats": []any{
		chatFixture(1, "open"),
		chatFixture(2, "other"),
	}})
	drainUntil(t, co, func() bool { return co.Status == "chats loaded" })
	co.Selected = 0 // chat 1 is open

	// A message for chat 2 must not be appended, but the unknown
	// sender still gets resolved and the alert still fires.
	b.send(map[string]any{"method": "message", "params": map[string]any{
		"message": msgFixture(2, "G9", "+15557777", "psst", false),
	}})
	drainUntil(t, co, func() bool { return co.Status == "new message" })
	assert.Empty(t, co.Messages)

	resolve := b.read()
	assert.Equal(t, "contacts.resolve", resolve.Method)
	assert.JSONEq(t, `{"handles":["+15557777"]}`, string(resolve.Params))
	assert.Equal(t, [][2]string{{"+15557777", "psst"}}, recorded.shown)

	// A message for the open chat is appended.
	rev := co.Rev
	b.send(map[string]any{"method": "message", "params": map[string]any{
		"message": msgFixture(1, "G10", "+15557777", "hello", false),
	}})
	drainUntil(t, co, func() bool { return len(co.Messages) == 1 })
	assert.Equal(t, "hello", co.Messages[0].Text)
	assert.Greater(t, co.Rev, rev)
}

func TestOwnMessagesDoNotAlert(t *testing.T) {
	recorded := &recordingNotifier{}
	co, _, b := newTestCoordinator(t, Options{Alerts: true, Notifier: recorded})
	boot := b.read()
	b.respond(boot.ID, map[string]any{"chats": []any{chatFixture(1, "open")}})
	drainUntil(t, co, func() bool { return co.Status == "chats loaded" })

	b.send(map[string]any{"method": "message", "params": map[string]any{
		"message": msgFixture(1, "G1", "me", "sent elsewhere", true),
	}})
	drainUntil(t, co, func() bool { return len(co.Messages) == 1 })
	assert.Empty(t, recorded.shown)
}

type recordingNotifier struct {
	shown [][2]string
}

func (r *recordingNotifier) Notify(title, body string) {
	r.shown = append(r.shown, [2]string{title, body})
}

func TestDispatchWhileDisconnectedIsDropped(t *testing.T) {
	clock := newFakeClock()
	co, _, b := newTestCoordinator(t, Options{Now: clock.Now})
	b.close()
	drainUntil(t, co, func() bool { return !co.Connected() })

	co.RequestChats()
	assert.Equal(t, "not connected", co.Status)
	assert.Empty(t, co.pending)
}

func TestWatchSubscriptionLifecycle(t *testing.T) {
	co, _, b := newTestCoordinator(t, Options{})
	boot := b.read()
	b.respond(boot.ID, map[string]any{"chats": []any{chatFixture(7, "")}})
	drainUntil(t, co, func() bool { return co.Status == "chats loaded" })

	co.ToggleWatch(7)
	sub := b.read()
	assert.Equal(t, "watch.subscribe", sub.Method)
	assert.JSONEq(t, `{"chat_id":7}`, string(sub.Params))
	b.respond(sub.ID, map[string]any{"subscription": "tok-1"})
	drainUntil(t, co, func() bool { return co.Status == "watch subscribed" })

	chatID, active := co.Watching()
	assert.Equal(t, int64(7), chatID)
	assert.True(t, active)

	co.ToggleWatch(7)
	unsub := b.read()
	assert.Equal(t, "watch.unsubscribe", unsub.Method)
	assert.JSONEq(t, `{"subscription":"tok-1"}`, string(unsub.Params))
	b.respond(unsub.ID, map[string]any{})
	drainUntil(t, co, func() bool { return co.Status == "watch unsubscribed" })

	_, active = co.Watching()
	assert.False(t, active)
}

func TestReconnectClearsStaleState(t *testing.T) {
	clock := newFakeClock()
	co, d, b := newTestCoordinator(t, Options{Now: clock.Now})
	boot := b.read()
	b.respond(boot.ID, map[string]any{"chats": []any{chatFixture(7, "")}})
	drainUntil(t, co, func() bool { return co.Status == "chats loaded" })

	// Active subscription plus three in-flight requests.
	co.ToggleWatch(7)
	sub := b.read()
	b.respond(sub.ID, map[string]any{"subscription": "tok-1"})
	drainUntil(t, co, func() bool { return co.Status == "watch subscribed" })

	co.RequestHistory(7)
	co.SendToChat(7, "one")
	co.SendReaction("G1", "like")
	require.Len(t, co.pending, 3)

	b.close()
	drainUntil(t, co, func() bool { return co.Reconnecting() })
	assert.Contains(t, co.Status, "rpc closed")
	assert.False(t, co.Connected())

	// Not due yet: nothing happens.
	co.TickReconnect()
	assert.Equal(t, 1, d.dialCalls())

	clock.Advance(2 * time.Second)
	co.TickReconnect()
	require.Equal(t, 2, d.dialCalls())
	assert.True(t, co.Connected())
	assert.False(t, co.Reconnecting())
	assert.Equal(t, 0, co.reconnectAttempts)
	assert.Equal(t, "reconnected", co.Status)

	b2 := d.backend()
	// Bootstrap and re-subscribe are re-issued on the new connection,
	// and only those: the pending map was cleared wholesale.
	first := b2.read()
	assert.Equal(t, "chats.list", first.Method)
	second := b2.read()
	assert.Equal(t, "watch.subscribe", second.Method)
	assert.JSONEq(t, `{"chat_id":7}`, string(second.Params))
	require.Len(t, co.pending, 2)
}

func TestReconnectFailureReschedulesForever(t *testing.T) {
	clock := newFakeClock()
	co, d, b := newTestCoordinator(t, Options{Now: clock.Now})
	b.close()
	drainUntil(t, co, func() bool { return co.Reconnecting() })

	d.setFail(true)
	delays := []time.Duration{2, 4, 8, 16, 30, 30}
	for i, secs := range delays {
		clock.Advance(secs * time.Second)
		co.TickReconnect()
		assert.Equal(t, i+2, d.dialCalls(), "attempt %d", i)
		assert.Contains(t, co.Status, "reconnect failed")
		assert.True(t, co.Reconnecting())
	}

	// And the next attempt after the cap still succeeds normally.
	d.setFail(false)
	clock.Advance(30 * time.Second)
	co.TickReconnect()
	assert.True(t, co.Connected())
	b2 := d.backend()
	assert.Equal(t, "chats.list", b2.read().Method)
}

func TestEndToEndScenario(t *testing.T) {
	clock := newFakeClock()
	co, d, b := newTestCoordinator(t, Options{Now: clock.Now})

	// chats.list → chat list recorded.
	boot := b.read()
	require.Equal(t, "chats.list", boot.Method)
	b.respond(boot.ID, map[string]any{"chats": []any{chatFixture(7, "Lin")}})
	drainUntil(t, co, func() bool { return co.Status == "chats loaded" })
	require.Len(t, co.Chats, 1)

	// fetch-history for chat 7 → history populated, unseen sender
	// triggers a resolve dispatch.
	co.RequestHistory(7)
	hist := b.read()
	require.Equal(t, "messages.history", hist.Method)
	b.respond(hist.ID, map[string]any{"messages": []any{
		msgFixture(7, "G1", "+15550001", "hey", false),
	}})
	drainUntil(t, co, func() bool { return co.Status == "history loaded" })
	require.Len(t, co.Messages, 1)
	resolve := b.read()
	require.Equal(t, "contacts.resolve", resolve.Method)

	// End-of-stream → Closed observed, status reflects closure.
	b.close()
	drainUntil(t, co, func() bool { return co.Reconnecting() })
	assert.Contains(t, co.Status, "rpc closed")

	// After the first backoff interval the reconnect attempt fires.
	clock.Advance(2 * time.Second)
	co.TickReconnect()
	assert.Equal(t, 2, d.dialCalls())
	assert.True(t, co.Connected())
}
