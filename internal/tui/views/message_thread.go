package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/wxm/internal/store"
	"github.com/matheus3301/wxm/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread displays the retained history of a single chat. The mirror
// is read-only, so there is no composer.
type MessageThread struct {
	*tview.TextView
	theme    *ui.Theme
	chatID   string
	chatName string
	now      func() time.Time
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Messages ")
	tv.SetTitleColor(theme.TitleColor)

	return &MessageThread{
		TextView: tv,
		theme:    theme,
		now:      time.Now,
	}
}

// Title implements ui.Component.
func (mt *MessageThread) Title() string {
	if mt.chatName != "" {
		return mt.chatName
	}
	return "Messages"
}

// SetChat switches the thread to another chat.
func (mt *MessageThread) SetChat(id, name string) {
	mt.chatID = id
	mt.chatName = name
	mt.SetTitle(fmt.Sprintf(" %s ", tview.Escape(name)))
}

// ChatID returns the chat being shown.
func (mt *MessageThread) ChatID() string {
	return mt.chatID
}

// Update renders msgs, oldest first, and scrolls to the newest.
func (mt *MessageThread) Update(msgs []store.Message) {
	mt.Clear()
	if len(msgs) == 0 {
		_, _ = fmt.Fprint(mt, "\n [::d]No messages received for this chat since the viewer started.[-:-:-]")
		return
	}

	now := mt.now()
	self := ui.ColorName(mt.theme.SelfColor)
	for _, m := range msgs {
		sender, color := cell(mt.chatName), ui.ColorName(mt.theme.TitleColor)
		if !m.IsIncoming {
			sender, color = "You", self
		}
		ts := m.ShortTime
		if ts == "" {
			ts = stamp(m.CreatedAt, now)
		}
		_, _ = fmt.Fprintf(mt, "[%s::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
			color, sender, ts, cell(m.Content))
	}
	mt.ScrollToEnd()
}
