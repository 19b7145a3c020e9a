// Package notify shows desktop alerts for inbound messages. Alerts are
// fire-and-forget: a missing notifier binary degrades to a logged
// debug line, never an error the session layer sees.
package notify

import (
	"os/exec"
	"runtime"

	"github.com/imsgkit/imsgtui/internal/logger"
)

// Desktop sends notifications through the platform notifier binary.
type Desktop struct {
	appName string
	log     *logger.Logger
}

// NewDesktop returns a notifier labelled with appName.
func NewDesktop(appName string) *Desktop {
	return &Desktop{
		appName: appName,
		log:     logger.Global().WithPrefix("notify"),
	}
}

// Notify displays title and body asynchronously.
func (d *Desktop) Notify(title, body string) {
	cmd := d.command(title, body)
	if cmd == nil {
		return
	}
	go func() {
		if err := cmd.Run(); err != nil {
			d.log.Debug("notification failed: %v", err)
		}
	}()
}

func (d *Desktop) command(title, body string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		script := "display notification " + appleQuote(body) +
			" with title " + appleQuote(title) +
			" subtitle " + appleQuote(d.appName)
		return exec.Command("osascript", "-e", script)
	case "linux":
		return exec.Command("notify-send", "--app-name", d.appName, title, body)
	default:
		return nil
	}
}

// appleQuote wraps s in AppleScript double quotes, escaping embedded
// quotes and backslashes.
func appleQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(append(out, '"'))
}
