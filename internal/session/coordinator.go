package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/imsgkit/imsgtui/internal/logger"
	"github.com/imsgkit/imsgtui/internal/rpc"
)

// DialFunc re-acquires a transport using the original connection
// configuration. The Coordinator owns all retry policy; the dial
// itself never retries.
type DialFunc func() (*rpc.Conn, error)

// Notifier shows a desktop alert for an inbound message.
type Notifier interface {
	Notify(title, body string)
}

// AttachmentStore persists fetched attachment payloads keyed by
// message guid.
type AttachmentStore interface {
	Store(guid, filename string, data []byte) (string, error)
	Lookup(guid string) (string, bool)
}

// Options configures a Coordinator. Zero values are usable: alerts
// off, wall clock, no attachment cache.
type Options struct {
	Notifier    Notifier
	Attachments AttachmentStore
	Alerts      bool
	Now         func() time.Time
}

const (
	chatListLimit  = 50
	historyLimit   = 50
	searchLimit    = 10
	watchMethod    = "watch.subscribe"
	unwatchMethod  = "watch.unsubscribe"
	messageMethod  = "message"
	maxBackoffSecs = 30
)

// Coordinator is the session layer above the framer. It owns the
// pending identifier→intent map, drains the framer's event channel,
// resolves replies against intents, and runs the reconnection state
// machine. All of its state is mutated only from the UI's
// single-threaded tick loop, so it needs no locking.
type Coordinator struct {
	dial   DialFunc
	ids    *rpc.IDSource
	client *rpc.Client
	log    *logger.Logger

	pending map[string]pendingCall

	// State rendered by the presentation layer.
	Chats       []Chat
	Messages    []Message
	Selected    int
	Contacts    map[string]string
	Suggestions []Suggestion
	Status      string

	// Rev increments whenever the visible message list changes, so
	// the UI knows when to snap its scroll position.
	Rev uint64

	watchToken  string
	watchChatID int64
	watchActive bool

	contactQuery string
	failedQuery  string

	reconnectAt       time.Time
	reconnectAttempts int

	connected   bool
	notifier    Notifier
	attachments AttachmentStore
	alerts      bool
	now         func() time.Time
}

// New creates a Coordinator that will obtain connections through dial.
// It does not connect; call Connect once before ticking.
func New(dial DialFunc, opts Options) *Coordinator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		dial:        dial,
		ids:         rpc.NewIDSource(),
		log:         logger.Global().WithPrefix("session"),
		pending:     make(map[string]pendingCall),
		Contacts:    make(map[string]string),
		Status:      "ready",
		notifier:    opts.Notifier,
		attachments: opts.Attachments,
		alerts:      opts.Alerts,
		now:         now,
	}
}

// Connect establishes the initial connection and issues the bootstrap
// requests. A failure here is surfaced to the caller; only reconnects
// are retried automatically.
func (c *Coordinator) Connect() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	c.client = rpc.NewClient(conn, c.ids)
	c.connected = true
	c.RequestChats()
	return nil
}

// Connected reports whether a live client exists.
func (c *Coordinator) Connected() bool {
	return c.connected
}

// Reconnecting reports whether a reconnect attempt is scheduled.
func (c *Coordinator) Reconnecting() bool {
	return !c.reconnectAt.IsZero()
}

// Watching reports whether a live-update subscription is wanted, and
// for which chat.
func (c *Coordinator) Watching() (int64, bool) {
	return c.watchChatID, c.watchActive
}

// SelectedChat returns the currently open conversation.
func (c *Coordinator) SelectedChat() (Chat, bool) {
	if c.Selected < 0 || c.Selected >= len(c.Chats) {
		return Chat{}, false
	}
	return c.Chats[c.Selected], true
}

// DisplayName resolves a handle through the contact cache, falling
// back to the raw handle.
func (c *Coordinator) DisplayName(handle string) string {
	if name, ok := c.Contacts[handle]; ok {
		return name
	}
	return handle
}

// TakeFailedSearch hands the query of a failed contact search back to
// the UI exactly once, so compose can be reopened with it.
func (c *Coordinator) TakeFailedSearch() (string, bool) {
	if c.failedQuery == "" {
		return "", false
	}
	q := c.failedQuery
	c.failedQuery = ""
	return q, true
}

// Dispatch sends one request and records its intent in the pending
// map. While disconnected it drops the request with a logged warning
// and reports false; callers re-issue if still relevant after
// reconnection.
func (c *Coordinator) Dispatch(method string, params any, intent Intent) bool {
	return c.dispatchRef(method, params, intent, "")
}

func (c *Coordinator) dispatchRef(method string, params any, intent Intent, ref string) bool {
	if !c.connected || c.client == nil {
		c.log.Warn("dropping %s (%s): not connected", method, intent)
		c.Status = "not connected"
		return false
	}
	id, err := c.client.Send(method, params)
	if err != nil {
		c.log.Error("marshal %s: %v", method, err)
		c.Status = "request failed: " + err.Error()
		return false
	}
	c.pending[id] = pendingCall{intent: intent, ref: ref}
	return true
}

// RequestChats loads the conversation list.
func (c *Coordinator) RequestChats() {
	if c.Dispatch("chats.list", map[string]any{"limit": chatListLimit}, IntentChats) {
		c.Status = "loading chats..."
	}
}

// RequestHistory loads the recent messages of one chat.
func (c *Coordinator) RequestHistory(chatID int64) {
	if c.Dispatch("messages.history", map[string]any{"chat_id": chatID, "limit": historyLimit}, IntentHistory) {
		c.Status = fmt.Sprintf("loading history for chat %d", chatID)
	}
}

// SendToChat sends text into an existing conversation.
func (c *Coordinator) SendToChat(chatID int64, text string) {
	if c.Dispatch("send", map[string]any{"chat_id": chatID, "text": text}, IntentSend) {
		c.Status = "sending..."
	}
}

// SendTo sends text to a free-form recipient handle.
func (c *Coordinator) SendTo(handle, text string) {
	if c.Dispatch("send", map[string]any{"to": handle, "text": text}, IntentSend) {
		c.Status = "sending..."
	}
}

// SendReaction sends a tapback for a message guid.
func (c *Coordinator) SendReaction(guid, reaction string) {
	if c.Dispatch("reactions.send", map[string]any{"guid": guid, "reaction": reaction}, IntentReaction) {
		c.Status = "sending reaction..."
	}
}

// ResolveContacts asks the backend for display names of handles.
func (c *Coordinator) ResolveContacts(handles []string) {
	c.Dispatch("contacts.resolve", map[string]any{"handles": handles}, IntentResolveContacts)
}

// SearchContacts looks up contacts matching a partial name.
func (c *Coordinator) SearchContacts(query string) {
	c.contactQuery = query
	c.Dispatch("contacts.search", map[string]any{"query": query, "limit": searchLimit}, IntentContactSearch)
}

// FetchAttachment retrieves an attachment payload, serving repeats
// from the local cache.
func (c *Coordinator) FetchAttachment(guid string) {
	if c.attachments != nil {
		if path, ok := c.attachments.Lookup(guid); ok {
			c.Status = "attachment cached: " + path
			return
		}
	}
	if c.dispatchRef("attachments.fetch", map[string]any{"guid": guid}, IntentAttachment, guid) {
		c.Status = "fetching attachment..."
	}
}

// ToggleWatch subscribes to live updates for chatID, or unsubscribes
// if a subscription is already active. At most one subscription exists
// per Coordinator.
func (c *Coordinator) ToggleWatch(chatID int64) {
	if c.watchToken != "" {
		if c.Dispatch(unwatchMethod, map[string]any{"subscription": c.watchToken}, IntentWatchUnsubscribe) {
			c.Status = "unsubscribing..."
			c.watchActive = false
		}
		return
	}
	c.watchChatID = chatID
	c.watchActive = true
	c.subscribe(chatID)
}

func (c *Coordinator) subscribe(chatID int64) {
	if c.Dispatch(watchMethod, map[string]any{"chat_id": chatID}, IntentWatchSubscribe) {
		c.Status = "subscribing..."
	}
}

// Drain consumes every currently buffered event without blocking and
// applies it. Called on each UI tick.
func (c *Coordinator) Drain() {
	if c.client == nil {
		return
	}
	for {
		select {
		case ev := <-c.client.Events():
			c.apply(ev)
			if c.client == nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Coordinator) apply(ev rpc.Event) {
	switch ev := ev.(type) {
	case rpc.Response:
		call, ok := c.pending[ev.ID]
		if !ok {
			// Unknown or already-handled id; a reply for a request
			// abandoned across a reconnect lands here.
			c.log.Debug("discarding reply for unknown id %s", ev.ID)
			return
		}
		delete(c.pending, ev.ID)
		c.handleResponse(call, ev.Result)
	case rpc.ErrorEvent:
		if ev.ID == "" {
			c.Status = ev.Err.Error()
			return
		}
		call, ok := c.pending[ev.ID]
		if !ok {
			c.Status = ev.Err.Error()
			return
		}
		delete(c.pending, ev.ID)
		c.handleError(call, ev.Err)
	case rpc.Notification:
		c.handleNotification(ev.Method, ev.Params)
	case rpc.Closed:
		c.Status = "rpc closed: " + ev.Reason
		c.log.Warn("connection closed: %s", ev.Reason)
		if c.client != nil {
			_ = c.client.Close()
			c.client = nil
		}
		c.connected = false
		// In-flight calls died with the connection; their replies can
		// never arrive.
		c.pending = make(map[string]pendingCall)
		c.scheduleReconnect()
	}
}

func (c *Coordinator) handleResponse(call pendingCall, result json.RawMessage) {
	switch call.intent {
	case IntentChats:
		var res chatsResult
		if err := json.Unmarshal(result, &res); err != nil {
			c.log.Error("bad chats.list result: %v", err)
			return
		}
		c.Chats = res.Chats
		if c.Selected >= len(c.Chats) {
			c.Selected = 0
		}
		c.Status = "chats loaded"

	case IntentHistory:
		var res historyResult
		if err := json.Unmarshal(result, &res); err != nil {
			c.log.Error("bad messages.history result: %v", err)
			return
		}
		c.Messages = res.Messages
		c.Rev++
		c.Suggestions = nil
		c.Status = "history loaded"
		c.resolveUnseen(c.Messages)

	case IntentWatchSubscribe:
		var res subscribeResult
		if err := json.Unmarshal(result, &res); err == nil && res.Subscription != "" {
			c.watchToken = res.Subscription
			c.Status = "watch subscribed"
		}

	case IntentWatchUnsubscribe:
		c.watchToken = ""
		c.watchChatID = 0
		c.watchActive = false
		c.Status = "watch unsubscribed"

	case IntentSend:
		c.Status = "sent"

	case IntentResolveContacts:
		var res contactsResult
		if err := json.Unmarshal(result, &res); err != nil {
			return
		}
		for _, entry := range res.Contacts {
			if entry.Handle != "" && entry.Name != "" {
				c.Contacts[entry.Handle] = entry.Name
			}
		}

	case IntentContactSearch:
		var res searchResult
		if err := json.Unmarshal(result, &res); err != nil {
			return
		}
		var suggestions []Suggestion
		for _, match := range res.Matches {
			for _, handle := range match.Handles {
				label := handle
				if match.Name != "" {
					label = fmt.Sprintf("%s <%s>", match.Name, handle)
				}
				suggestions = append(suggestions, Suggestion{Label: label, Handle: handle})
			}
		}
		c.Suggestions = suggestions
		if len(suggestions) == 0 {
			c.Status = "no contact matches; enter handle"
		}
		c.contactQuery = ""

	case IntentReaction:
		c.Status = "reaction sent"

	case IntentAttachment:
		var res attachmentResult
		if err := json.Unmarshal(result, &res); err != nil {
			c.Status = "attachment unreadable"
			return
		}
		if c.attachments == nil {
			c.Status = "attachment fetched (no cache configured)"
			return
		}
		path, err := c.attachments.Store(call.ref, res.Filename, res.Data)
		if err != nil {
			c.Status = "attachment save failed: " + err.Error()
			return
		}
		c.Status = "attachment saved: " + path
	}
}

// handleError routes a tied error. Contact lookups degrade gracefully;
// everything else becomes a status line with the backend's code and
// message preserved.
func (c *Coordinator) handleError(call pendingCall, rpcErr rpc.RPCError) {
	switch call.intent {
	case IntentResolveContacts:
		c.Status = "contacts unavailable; names disabled"
	case IntentContactSearch:
		c.Status = "contact search unavailable; enter handle"
		c.Suggestions = nil
		if c.contactQuery != "" {
			c.failedQuery = c.contactQuery
			c.contactQuery = ""
		}
	default:
		c.Status = rpcErr.Error()
	}
}

func (c *Coordinator) handleNotification(method string, params json.RawMessage) {
	if method != messageMethod {
		c.log.Debug("ignoring notification %q", method)
		return
	}
	msg, ok := parseMessageNotification(params)
	if !ok {
		return
	}
	if chat, ok := c.SelectedChat(); ok && chat.ID == msg.ChatID {
		c.Messages = append(c.Messages, msg)
		c.Rev++
	}
	if msg.Sender != "" {
		if _, known := c.Contacts[msg.Sender]; !known {
			c.ResolveContacts([]string{msg.Sender})
		}
	}
	if c.alerts && !msg.IsFromMe && c.notifier != nil {
		c.notifier.Notify(c.DisplayName(msg.Sender), msg.Text)
	}
	c.Status = "new message"
}

// resolveUnseen requests display names for every sender in msgs that
// the contact cache has not seen yet.
func (c *Coordinator) resolveUnseen(msgs []Message) {
	var handles []string
	requested := make(map[string]bool)
	for _, m := range msgs {
		h := m.Sender
		if h == "" || requested[h] {
			continue
		}
		if _, known := c.Contacts[h]; known {
			continue
		}
		requested[h] = true
		handles = append(handles, h)
	}
	if len(handles) > 0 {
		c.ResolveContacts(handles)
	}
}

// backoffDelay returns the delay before reconnect attempt n: bounded
// exponential, 2,4,8,16 then capped at 30 seconds.
func backoffDelay(attempt int) time.Duration {
	if attempt > 4 {
		attempt = 4
	}
	secs := 2 * (1 << uint(attempt))
	if secs > maxBackoffSecs {
		secs = maxBackoffSecs
	}
	return time.Duration(secs) * time.Second
}

func (c *Coordinator) scheduleReconnect() {
	if !c.reconnectAt.IsZero() {
		return
	}
	delay := backoffDelay(c.reconnectAttempts)
	c.reconnectAttempts++
	c.reconnectAt = c.now().Add(delay)
	c.log.Info("reconnect attempt %d scheduled in %s", c.reconnectAttempts, delay)
}

// TickReconnect attempts a reconnect once its scheduled time has
// passed. On success the pending map is cleared wholesale (in-flight
// calls from the dead connection are never resurrected), the attempt
// counter resets, the previous watch target is re-subscribed and the
// bootstrap requests are re-issued. On failure the next attempt is
// rescheduled with the grown backoff; there is no attempt limit.
func (c *Coordinator) TickReconnect() {
	if c.reconnectAt.IsZero() || c.now().Before(c.reconnectAt) {
		return
	}
	conn, err := c.dial()
	if err != nil {
		c.Status = "reconnect failed: " + err.Error()
		c.log.Warn("reconnect failed: %v", err)
		c.reconnectAt = time.Time{}
		c.scheduleReconnect()
		return
	}
	c.client = rpc.NewClient(conn, c.ids)
	c.connected = true
	c.reconnectAt = time.Time{}
	c.reconnectAttempts = 0
	c.pending = make(map[string]pendingCall)
	c.watchToken = ""
	c.Status = "reconnected"
	c.log.Info("reconnected")
	c.RequestChats()
	if c.watchActive && c.watchChatID != 0 {
		c.subscribe(c.watchChatID)
	}
}

// Close shuts the transport down; used on exit.
func (c *Coordinator) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.connected = false
	return err
}
