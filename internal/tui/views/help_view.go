package views

import (
	"fmt"

	"github.com/matheus3301/wxm/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	kc := ui.ColorName(theme.MenuKeyColor)
	sections := []struct {
		title string
		keys  [][2]string
	}{
		{"Global", [][2]string{
			{":", "Command mode"},
			{"/", "Filter the current list"},
			{"Esc", "Clear filter / go back"},
			{"?", "This help"},
			{"q", "Quit (back on inner pages)"},
			{"Ctrl-C", "Quit immediately"},
		}},
		{"Chats", [][2]string{
			{"Enter", "Open chat"},
			{"1-9", "Open the Nth listed chat"},
			{"d", "Chat details"},
			{"c", "Contact directory"},
		}},
		{"Messages", [][2]string{
			{"d", "Chat details"},
			{"j/k", "Scroll"},
		}},
		{"Contacts", [][2]string{
			{"Enter", "Open chat with contact"},
		}},
		{"Commands", [][2]string{
			{":chat <name>", "Open the first chat matching name"},
			{":chats", "Back to the chat list"},
			{":contacts [filter]", "Contact directory"},
			{":info", "Details of the open chat"},
			{":help, :h", "This help"},
			{":quit, :q", "Quit"},
		}},
	}
	for _, s := range sections {
		_, _ = fmt.Fprintf(tv, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, k := range s.keys {
			_, _ = fmt.Fprintf(tv, "  [%s]%-20s[-:-:-] %s\n", kc, tview.Escape(k[0]), k[1])
		}
	}
	return &HelpView{TextView: tv}
}

// Title implements ui.Component.
func (hv *HelpView) Title() string { return "Help" }
