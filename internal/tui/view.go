package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/imsgkit/imsgtui/internal/session"
)

var (
	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))

	focusedPaneStyle = paneStyle.
				BorderForeground(lipgloss.Color("69"))

	titleStyle = lipgloss.NewStyle().Bold(true)

	selectedChatStyle = lipgloss.NewStyle().Bold(true)

	fromMeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("27"))

	fromMeSMSStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("28"))

	inboundStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("250"))

	headerStyle   = lipgloss.NewStyle().Bold(true)
	replyStyle    = lipgloss.NewStyle().Italic(true)
	reactionStyle = lipgloss.NewStyle().Faint(true)

	helpStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(1, 2)
)

const helpText = `imsgtui help

q quit  Tab focus  Enter history  w watch  r refresh
s send (compose)  n new (compose to)  c compose
R react  a attachment  o open url
PgUp/PgDn scroll  j/k scroll  Up/Down select

compose mode
Tab switch field  Shift-Tab recent recipient
Enter send  Esc cancel`

func (m *Model) resize() {
	bodyHeight := m.height - 6
	if bodyHeight < 3 {
		bodyHeight = 3
	}
	m.messages.Width = m.messagePaneWidth() - 2
	m.messages.Height = bodyHeight - 2
}

func (m *Model) chatPaneWidth() int {
	w := m.width * 3 / 10
	if w < 20 {
		w = 20
	}
	return w
}

func (m *Model) messagePaneWidth() int {
	w := m.width - m.chatPaneWidth()
	if w < 20 {
		w = 20
	}
	return w
}

// View renders the whole screen: chat list and message panes, the
// compose line and the status bar.
func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}
	if m.showHelp {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
			helpStyle.Render(helpText))
	}

	bodyHeight := m.height - 6
	if bodyHeight < 3 {
		bodyHeight = 3
	}

	chats := m.renderChatPane(m.chatPaneWidth(), bodyHeight)
	msgs := m.renderMessagePane(m.messagePaneWidth(), bodyHeight)
	body := lipgloss.JoinHorizontal(lipgloss.Top, chats, msgs)

	compose := m.renderCompose(m.width)
	status := m.renderStatus(m.width)

	return lipgloss.JoinVertical(lipgloss.Left, body, compose, status)
}

func (m Model) renderChatPane(width, height int) string {
	style := paneStyle
	title := "Chats"
	if m.focus == paneChats {
		style = focusedPaneStyle
		title = "Chats *"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	inner := height - 3
	start := 0
	if m.co.Selected >= inner && inner > 0 {
		start = m.co.Selected - inner + 1
	}
	for i := start; i < len(m.co.Chats) && i-start < inner; i++ {
		chat := m.co.Chats[i]
		line := chatLine(chat)
		if i == m.co.Selected {
			line = selectedChatStyle.Render("➤ " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(truncate(line, width-4))
		b.WriteString("\n")
	}
	return style.Width(width - 2).Height(height - 2).Render(b.String())
}

func chatLine(chat session.Chat) string {
	if chat.Name == "" {
		return fmt.Sprintf("%s [%s] last=%s", chat.Identifier, chat.Service, chat.LastMessageAt)
	}
	return fmt.Sprintf("%s (%s) [%s] last=%s", chat.Name, chat.Identifier, chat.Service, chat.LastMessageAt)
}

func (m Model) renderMessagePane(width, height int) string {
	style := paneStyle
	title := "Messages"
	if m.focus == paneMessages {
		style = focusedPaneStyle
		title = "Messages *"
	}
	content := titleStyle.Render(title) + "\n" + m.messages.View()
	return style.Width(width - 2).Height(height - 2).Render(content)
}

// refreshMessagePane rebuilds the viewport content from Coordinator
// state. Called when the message list or selection changes.
func (m *Model) refreshMessagePane() {
	width := m.messages.Width
	if width <= 0 {
		return
	}

	lookup := make(map[string]session.Message)
	for _, msg := range m.co.Messages {
		if msg.GUID != "" {
			lookup[msg.GUID] = msg
		}
	}

	var b strings.Builder
	for i, msg := range m.co.Messages {
		style := m.bubbleStyle(msg)
		if m.focus == paneMessages && i == m.messageIndex {
			style = style.Reverse(true)
		}

		header := fmt.Sprintf("%s %s", msg.CreatedAt, m.co.DisplayName(msg.Sender))
		b.WriteString(style.Inherit(headerStyle).Render("  " + header + "  "))
		b.WriteString("\n")

		if preview := m.replyPreview(msg, lookup); preview != "" {
			b.WriteString(style.Inherit(replyStyle).Render("  " + preview + "  "))
			b.WriteString("\n")
		}

		for _, line := range strings.Split(wordwrap.String(msg.Text, width-4), "\n") {
			b.WriteString(style.Render("  " + line + "  "))
			b.WriteString("\n")
		}

		if summary := reactionSummary(msg.Reactions); summary != "" {
			b.WriteString(style.Inherit(reactionStyle).Render("  " + summary + "  "))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	m.messages.SetContent(b.String())
}

func (m *Model) bubbleStyle(msg session.Message) lipgloss.Style {
	if !msg.IsFromMe {
		return inboundStyle
	}
	if service, ok := m.chatService(msg.ChatID); ok && strings.EqualFold(service, "sms") {
		return fromMeSMSStyle
	}
	return fromMeStyle
}

func (m *Model) chatService(chatID int64) (string, bool) {
	for _, chat := range m.co.Chats {
		if chat.ID == chatID {
			return chat.Service, true
		}
	}
	return "", false
}

func (m *Model) replyPreview(msg session.Message, lookup map[string]session.Message) string {
	if msg.ReplyToGUID == "" {
		return ""
	}
	target, ok := lookup[msg.ReplyToGUID]
	if !ok {
		return "↪ reply to " + msg.ReplyToGUID
	}
	snippet := target.Text
	if len(snippet) > 48 {
		snippet = snippet[:48] + "…"
	}
	return fmt.Sprintf("↪ %s: %s", m.co.DisplayName(target.Sender), snippet)
}

func reactionSummary(reactions []session.Reaction) string {
	if len(reactions) == 0 {
		return ""
	}
	counts := make(map[string]int)
	for _, r := range reactions {
		counts[r.Emoji]++
	}
	parts := make([]string, 0, len(counts))
	for emoji, count := range counts {
		if count > 1 {
			parts = append(parts, fmt.Sprintf("%s %d", emoji, count))
		} else {
			parts = append(parts, emoji)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func (m Model) renderCompose(width int) string {
	style := paneStyle
	title := "Compose"
	if m.mode == modeCompose {
		style = focusedPaneStyle
		title = "Compose *"
	}

	to := m.composeTo.Value()
	if to == "" && m.mode != modeCompose {
		to = "<chat>"
	}
	body := m.composeBody.Value()
	if body == "" && m.mode != modeCompose {
		body = "<type message>"
	}
	var line string
	if m.mode == modeCompose {
		line = "To: " + m.composeTo.View() + " | Msg: " + m.composeBody.View()
	} else {
		line = fmt.Sprintf("To: %s | Msg: %s", to, body)
	}
	if len(m.co.Suggestions) > 0 {
		line += " | suggest: " + m.co.Suggestions[0].Label
	}
	return style.Width(width - 2).Render(titleStyle.Render(title) + "\n" + truncate(line, width-4))
}

func (m Model) renderStatus(width int) string {
	status := m.co.Status
	if m.co.Reconnecting() {
		status = m.spin.View() + " " + status
	}
	if m.mode == modeReaction {
		status = "React: " + m.reactionInput.View()
	}

	hint := "Tab focus, s send, n new, c compose, R react, o open, h help"
	if m.mode == modeCompose {
		hint = "Tab switch field, Shift-Tab recent, Enter send, Esc cancel"
	}
	return paneStyle.Width(width - 2).Render(
		titleStyle.Render("Status") + "\n" + truncate(status, width-4) + "\n" + truncate(hint, width-4))
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
