package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// SessionData holds session information for display.
type SessionData struct {
	Session  string
	Self     string
	Status   string
	Phase    string
	Chats    int
	Contacts int
	Messages int
	Cycles   int64
	Uptime   time.Duration
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the session info.
func (si *SessionInfo) Update(data SessionData) {
	si.Clear()

	fg := ColorName(si.theme.FgColor)
	ct := ColorName(si.theme.CounterColor)

	self := data.Self
	if self == "" {
		self = "-"
	}

	rows := []struct {
		label string
		value string
	}{
		{"Session:", data.Session},
		{"User:", self},
		{"Status:", data.Status + " / " + data.Phase},
		{"Chats:", fmt.Sprintf("%d (%d contacts)", data.Chats, data.Contacts)},
		{"Msgs:", fmt.Sprintf("%d in %d polls", data.Messages, data.Cycles)},
		{"Uptime:", FormatDuration(data.Uptime)},
	}
	for i, r := range rows {
		if i > 0 {
			_, _ = fmt.Fprint(si, "\n")
		}
		_, _ = fmt.Fprintf(si, "[%s::b]%-8s[-:-:-] [%s]%s[-]", fg, r.label, ct, tview.Escape(r.value))
	}
}

// FormatDuration renders d as hours and minutes, or seconds below a minute.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
