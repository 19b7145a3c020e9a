// Package tui renders Coordinator state and forwards user intents. It
// holds no protocol knowledge: every tick it drains the session layer,
// checks reconnect timing, and redraws.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/imsgkit/imsgtui/internal/logger"
	"github.com/imsgkit/imsgtui/internal/session"
)

const tickInterval = 100 * time.Millisecond

type tickMsg time.Time

type inputMode int

const (
	modeNormal inputMode = iota
	modeCompose
	modeReaction
)

type focusPane int

const (
	paneChats focusPane = iota
	paneMessages
)

type composeField int

const (
	fieldTo composeField = iota
	fieldBody
)

// Model is the bubbletea model for the whole client.
type Model struct {
	co  *session.Coordinator
	log *logger.Logger

	width  int
	height int
	ready  bool

	mode  inputMode
	focus focusPane

	messages     viewport.Model
	messageIndex int
	lastRev      uint64

	composeTo   textinput.Model
	composeBody textinput.Model
	field       composeField
	lastQuery   string

	reactionInput  textinput.Model
	reactionTarget string

	recipientHistory []string
	historyIndex     int

	spin     spinner.Model
	showHelp bool
}

// New builds the initial model around an already-connected
// Coordinator.
func New(co *session.Coordinator) Model {
	to := textinput.New()
	to.Placeholder = "<chat>"
	to.CharLimit = 256

	body := textinput.New()
	body.Placeholder = "type message"
	body.CharLimit = 4096

	reaction := textinput.New()
	reaction.Placeholder = "like/love/laugh/..."
	reaction.CharLimit = 32

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		co:            co,
		log:           logger.Global().WithPrefix("tui"),
		messages:      viewport.New(0, 0),
		composeTo:     to,
		composeBody:   body,
		reactionInput: reaction,
		historyIndex:  -1,
		spin:          sp,
	}
}

// Init starts the poll loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.spin.Tick)
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update is the single thread of control that mutates Coordinator
// state; the session layer relies on that.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tickMsg:
		m.co.Drain()
		m.co.TickReconnect()
		if query, ok := m.co.TakeFailedSearch(); ok {
			m.beginCompose(fieldTo)
			m.composeTo.SetValue(query)
			m.composeTo.CursorEnd()
		}
		if m.co.Rev != m.lastRev {
			m.lastRev = m.co.Rev
			m.clampMessageIndex()
			m.refreshMessagePane()
			m.messages.GotoBottom()
		}
		cmds = append(cmds, tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resize()
		m.refreshMessagePane()

	case tea.KeyMsg:
		switch m.mode {
		case modeNormal:
			model, cmd, quit := m.updateNormal(msg)
			if quit {
				_ = m.co.Close()
				return model, tea.Quit
			}
			return model, tea.Batch(append(cmds, cmd)...)
		case modeCompose:
			model, cmd := m.updateCompose(msg)
			return model, tea.Batch(append(cmds, cmd)...)
		case modeReaction:
			model, cmd := m.updateReaction(msg)
			return model, tea.Batch(append(cmds, cmd)...)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch msg.String() {
	case "q", "ctrl+c":
		return *m, nil, true
	case "tab":
		if m.focus == paneChats {
			m.focus = paneMessages
		} else {
			m.focus = paneChats
		}
	case "r":
		m.co.RequestChats()
	case "up", "down":
		m.moveSelection(msg.String() == "down")
	case "k":
		m.messages.LineUp(1)
	case "j":
		m.messages.LineDown(1)
	case "pgup":
		m.messages.LineUp(10)
	case "pgdown":
		m.messages.LineDown(10)
	case "enter":
		if m.focus == paneChats {
			if chat, ok := m.co.SelectedChat(); ok {
				m.co.RequestHistory(chat.ID)
				m.messageIndex = 0
			}
		}
	case "w":
		if chat, ok := m.co.SelectedChat(); ok {
			m.co.ToggleWatch(chat.ID)
		}
	case "s", "c":
		m.beginCompose(fieldBody)
	case "n":
		m.beginCompose(fieldTo)
	case "o":
		m.openSelectedURL()
	case "R":
		m.beginReaction()
	case "a":
		if sel, ok := m.selectedMessage(); ok && sel.GUID != "" {
			m.co.FetchAttachment(sel.GUID)
		}
	case "h", "?":
		m.showHelp = !m.showHelp
	}
	return *m, nil, false
}

func (m *Model) moveSelection(down bool) {
	switch m.focus {
	case paneChats:
		if down {
			if m.co.Selected+1 < len(m.co.Chats) {
				m.co.Selected++
			}
		} else if m.co.Selected > 0 {
			m.co.Selected--
		}
	case paneMessages:
		if down {
			if m.messageIndex+1 < len(m.co.Messages) {
				m.messageIndex++
			}
		} else if m.messageIndex > 0 {
			m.messageIndex--
		}
		m.refreshMessagePane()
	}
}

func (m *Model) selectedMessage() (session.Message, bool) {
	if m.messageIndex < 0 || m.messageIndex >= len(m.co.Messages) {
		return session.Message{}, false
	}
	return m.co.Messages[m.messageIndex], true
}

func (m *Model) clampMessageIndex() {
	if m.messageIndex >= len(m.co.Messages) {
		m.messageIndex = 0
	}
}

func (m *Model) beginReaction() {
	msg, ok := m.selectedMessage()
	if !ok || msg.GUID == "" {
		m.co.Status = "no message selected"
		return
	}
	m.mode = modeReaction
	m.reactionTarget = msg.GUID
	m.reactionInput.SetValue("")
	m.reactionInput.Focus()
	m.co.Status = "react: enter reaction (like/love/laugh/...)"
}

func (m *Model) updateReaction(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeNormal
		m.reactionInput.Blur()
		m.reactionTarget = ""
		m.co.Status = "cancelled"
		return *m, nil
	case "enter":
		reaction := trimmed(m.reactionInput.Value())
		if reaction == "" {
			m.co.Status = "reaction required"
			return *m, nil
		}
		m.co.SendReaction(m.reactionTarget, reaction)
		m.mode = modeNormal
		m.reactionInput.Blur()
		m.reactionTarget = ""
		return *m, nil
	}
	var cmd tea.Cmd
	m.reactionInput, cmd = m.reactionInput.Update(msg)
	return *m, cmd
}
