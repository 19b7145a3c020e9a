package session

// Intent is the caller-assigned meaning of a dispatched request, used
// to route its eventual reply. The framer never sees it.
type Intent int

const (
	IntentChats Intent = iota
	IntentHistory
	IntentWatchSubscribe
	IntentWatchUnsubscribe
	IntentSend
	IntentResolveContacts
	IntentContactSearch
	IntentReaction
	IntentAttachment
)

func (i Intent) String() string {
	switch i {
	case IntentChats:
		return "chats"
	case IntentHistory:
		return "history"
	case IntentWatchSubscribe:
		return "watch-subscribe"
	case IntentWatchUnsubscribe:
		return "watch-unsubscribe"
	case IntentSend:
		return "send"
	case IntentResolveContacts:
		return "resolve-contacts"
	case IntentContactSearch:
		return "contact-search"
	case IntentReaction:
		return "reaction"
	case IntentAttachment:
		return "attachment"
	default:
		return "unknown"
	}
}

// pendingCall is one pending-map entry. Ref carries per-call context
// the reply handler needs, such as the message guid of an attachment
// fetch.
type pendingCall struct {
	intent Intent
	ref    string
}
