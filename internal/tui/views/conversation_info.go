package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/wxm/internal/tui/model"
	"github.com/matheus3301/wxm/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo displays detailed information about a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
	now   func() time.Time
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
		now:      time.Now,
	}
}

// Title implements ui.Component.
func (ci *ConversationInfo) Title() string { return "Details" }

// Update renders the details of one chat.
func (ci *ConversationInfo) Update(chat model.ChatRow) {
	ci.Clear()

	fg := ui.ColorName(ci.theme.FgColor)
	ct := ui.ColorName(ci.theme.CounterColor)
	field := func(label, value string) {
		if value == "" {
			value = "-"
		}
		_, _ = fmt.Fprintf(ci, " [%s::b]%-13s[-:-:-] [%s]%s[-]\n", fg, label, ct, cell(value))
	}

	chatType := "Direct message"
	if chat.IsGroup {
		chatType = fmt.Sprintf("Group, %d members", chat.MemberCount)
	}
	muted := "no"
	if chat.Muted {
		muted = "yes"
	}

	_, _ = fmt.Fprint(ci, "\n")
	field("Name:", chat.Name())
	field("ID:", chat.ID)
	field("Nickname:", chat.DisplayName)
	field("Remark:", chat.RemarkName)
	field("Type:", chatType)
	field("Signature:", chat.Signature)
	field("Muted:", muted)
	field("Unread:", fmt.Sprint(chat.Unread))
	field("Last active:", stampMillis(chat.LastMessageAt, ci.now()))
	field("Last message:", oneLine(chat.LastMessagePreview))

	if len(chat.Members) > 0 {
		_, _ = fmt.Fprintf(ci, "\n [%s::b]Members[-:-:-]\n", fg)
		for _, m := range chat.Members {
			name := m.Name()
			if name == "" {
				name = m.ID
			}
			_, _ = fmt.Fprintf(ci, "   %s [::d]%s[-:-:-]\n", cell(name), tview.Escape(m.ID))
		}
	}
	ci.SetTitle(fmt.Sprintf(" %s ", tview.Escape(strings.TrimSpace(chat.Name()))))
	ci.ScrollToBeginning()
}
