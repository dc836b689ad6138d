package views

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/wxm/internal/tui/model"
	"github.com/matheus3301/wxm/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the main chat list view.
type ConversationList struct {
	*tview.Table
	theme *ui.Theme
	rows  []model.ChatRow
	now   func() time.Time
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Chats ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
		now:   time.Now,
	}
}

// Title implements ui.Component.
func (cl *ConversationList) Title() string { return "Chats" }

// Update renders rows, already filtered and ordered, out of total chats.
// The selection stays on the same chat when it is still listed.
func (cl *ConversationList) Update(rows []model.ChatRow, total int, filter string) {
	selected := cl.SelectedChat()
	cl.rows = rows
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" TYPE", 0},
	}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	now := cl.now()
	for i, r := range rows {
		row := i + 1
		fg := cl.theme.FgColor
		if r.Muted {
			fg = cl.theme.MutedColor
		}

		name := cell(r.Name())
		if r.Unread > 0 {
			name = fmt.Sprintf("[%s::b](%d)[-:-:-] %s", ui.ColorName(cl.theme.UnreadColor), r.Unread, name)
		}
		chatType := "DM"
		if r.IsGroup {
			chatType = "GROUP"
			if r.MemberCount > 0 {
				chatType += " " + strconv.Itoa(r.MemberCount)
			}
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+name).SetExpansion(1).SetTextColor(fg))
		cl.SetCell(row, 1, tview.NewTableCell(" "+cell(oneLine(r.LastMessagePreview))).SetExpansion(2).SetTextColor(fg))
		cl.SetCell(row, 2, tview.NewTableCell(stampMillis(r.LastMessageAt, now)).SetTextColor(fg).SetAlign(tview.AlignRight))
		cl.SetCell(row, 3, tview.NewTableCell(" "+chatType).SetTextColor(fg).SetAlign(tview.AlignRight))

		if r.ID == selected {
			cl.Select(row, 0)
		}
	}

	if filter != "" {
		cl.SetTitle(fmt.Sprintf(" Chats (%d/%d) filter: %s ", len(rows), total, tview.Escape(filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Chats (%d) ", total))
	}
}

// SelectedChat returns the ID of the currently selected chat.
func (cl *ConversationList) SelectedChat() string {
	row, _ := cl.GetSelection()
	return cl.ChatByIndex(row)
}

// ChatByIndex returns the ID of the Nth listed chat (1-based).
func (cl *ConversationList) ChatByIndex(n int) string {
	if n < 1 || n > len(cl.rows) {
		return ""
	}
	return cl.rows[n-1].ID
}
