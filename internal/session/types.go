package session

import "encoding/json"

// Chat is one conversation row from chats.list.
type Chat struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Identifier    string `json:"identifier"`
	LastMessageAt string `json:"last_message_at"`
	Service       string `json:"service"`
}

// Message is one message row from messages.history or a "message"
// notification.
type Message struct {
	ChatID      int64      `json:"chat_id"`
	GUID        string     `json:"guid"`
	ReplyToGUID string     `json:"reply_to_guid"`
	Sender      string     `json:"sender"`
	Text        string     `json:"text"`
	CreatedAt   string     `json:"created_at"`
	IsFromMe    bool       `json:"is_from_me"`
	Reactions   []Reaction `json:"reactions"`
}

// Reaction is a tapback attached to a message.
type Reaction struct {
	Emoji    string `json:"emoji"`
	Sender   string `json:"sender"`
	IsFromMe bool   `json:"is_from_me"`
}

// Suggestion is one contact-search match offered while composing.
type Suggestion struct {
	Label  string
	Handle string
}

type chatsResult struct {
	Chats []Chat `json:"chats"`
}

type historyResult struct {
	Messages []Message `json:"messages"`
}

type subscribeResult struct {
	Subscription string `json:"subscription"`
}

type contactsResult struct {
	Contacts []struct {
		Handle string `json:"handle"`
		Name   string `json:"name"`
	} `json:"contacts"`
}

type searchResult struct {
	Matches []struct {
		Name    string   `json:"name"`
		Handles []string `json:"handles"`
	} `json:"matches"`
}

type attachmentResult struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"` // base64 on the wire
}

type messageNotification struct {
	Message *Message `json:"message"`
}

func parseMessageNotification(params json.RawMessage) (Message, bool) {
	var n messageNotification
	if err := json.Unmarshal(params, &n); err != nil || n.Message == nil {
		return Message{}, false
	}
	return *n.Message, true
}
