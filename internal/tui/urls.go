package tui

import (
	"regexp"

	"github.com/cli/browser"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// extractURLs returns every URL found in text, in order.
func extractURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// openSelectedURL opens the first URL of the selected message in the
// default browser.
func (m *Model) openSelectedURL() {
	msg, ok := m.selectedMessage()
	if !ok {
		m.co.Status = "no message selected"
		return
	}
	urls := extractURLs(msg.Text)
	if len(urls) == 0 {
		m.co.Status = "no url found"
		return
	}
	if err := browser.OpenURL(urls[0]); err != nil {
		m.log.Warn("open url: %v", err)
		m.co.Status = "failed to open url"
		return
	}
	m.co.Status = "opened " + urls[0]
}
