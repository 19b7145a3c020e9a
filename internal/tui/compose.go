package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

func trimmed(s string) string { return strings.TrimSpace(s) }

// looksLikeHandle reports whether value is already a deliverable
// address (email-style or phone-style) rather than a contact name to
// search for.
func looksLikeHandle(value string) bool {
	v := trimmed(value)
	if v == "" {
		return false
	}
	if strings.Contains(v, "@") {
		return true
	}
	for _, r := range v {
		if r >= '0' && r <= '9' {
			continue
		}
		if !strings.ContainsRune("+()- ", r) {
			return false
		}
	}
	return true
}

func (m *Model) beginCompose(field composeField) {
	m.mode = modeCompose
	m.field = field
	m.focusComposeField()
	m.co.Status = "compose: tab switch field, shift-tab recent, enter send"
}

func (m *Model) focusComposeField() {
	if m.field == fieldTo {
		m.composeTo.Focus()
		m.composeBody.Blur()
	} else {
		m.composeBody.Focus()
		m.composeTo.Blur()
	}
}

func (m *Model) endCompose(status string) {
	m.mode = modeNormal
	m.composeTo.Blur()
	m.composeBody.Blur()
	if status != "" {
		m.co.Status = status
	}
}

func (m *Model) updateCompose(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.endCompose("cancelled")
		return *m, nil
	case "tab":
		if m.field == fieldTo {
			m.field = fieldBody
		} else {
			m.field = fieldTo
		}
		m.focusComposeField()
		return *m, nil
	case "shift+tab":
		m.cycleRecipientHistory()
		return *m, nil
	case "enter":
		if m.field == fieldTo {
			if len(m.co.Suggestions) > 0 {
				m.composeTo.SetValue(m.co.Suggestions[0].Handle)
				m.composeTo.CursorEnd()
			}
			m.field = fieldBody
			m.focusComposeField()
			return *m, nil
		}
		if m.sendCompose() {
			m.endCompose("")
		}
		return *m, nil
	}

	var cmd tea.Cmd
	if m.field == fieldTo {
		before := m.composeTo.Value()
		m.composeTo, cmd = m.composeTo.Update(msg)
		if m.composeTo.Value() != before {
			m.refreshSuggestions()
		}
	} else {
		m.composeBody, cmd = m.composeBody.Update(msg)
	}
	return *m, cmd
}

// refreshSuggestions kicks off a contact search once the To field
// holds a plausible partial name.
func (m *Model) refreshSuggestions() {
	query := trimmed(m.composeTo.Value())
	if len(query) < 2 || looksLikeHandle(query) {
		m.co.Suggestions = nil
		return
	}
	if query == m.lastQuery {
		return
	}
	m.lastQuery = query
	m.co.SearchContacts(query)
}

// sendCompose dispatches the composed message. An empty To targets the
// selected chat; otherwise the text goes to the entered handle or the
// first suggestion.
func (m *Model) sendCompose() bool {
	text := trimmed(m.composeBody.Value())
	if text == "" {
		m.co.Status = "message text required"
		return false
	}
	target := trimmed(m.composeTo.Value())
	if target == "" {
		chat, ok := m.co.SelectedChat()
		if !ok {
			m.co.Status = "no chat selected"
			return false
		}
		m.co.SendToChat(chat.ID, text)
		if chat.Identifier != "" {
			m.recordRecipient(chat.Identifier)
		}
		m.composeBody.SetValue("")
		return true
	}
	if looksLikeHandle(target) {
		m.co.SendTo(target, text)
		m.recordRecipient(target)
		m.composeBody.SetValue("")
		return true
	}
	if len(m.co.Suggestions) > 0 {
		handle := m.co.Suggestions[0].Handle
		m.co.SendTo(handle, text)
		m.composeTo.SetValue(handle)
		m.recordRecipient(handle)
		m.composeBody.SetValue("")
		return true
	}
	m.co.Status = "unknown recipient; enter handle"
	return false
}

func (m *Model) recordRecipient(handle string) {
	handle = trimmed(handle)
	if handle == "" {
		return
	}
	kept := m.recipientHistory[:0]
	for _, h := range m.recipientHistory {
		if h != handle {
			kept = append(kept, h)
		}
	}
	m.recipientHistory = append([]string{handle}, kept...)
	m.historyIndex = -1
}

func (m *Model) cycleRecipientHistory() {
	if len(m.recipientHistory) == 0 {
		return
	}
	m.historyIndex = (m.historyIndex + 1) % len(m.recipientHistory)
	m.composeTo.SetValue(m.recipientHistory[m.historyIndex])
	m.composeTo.CursorEnd()
}
