package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/wxm/internal/store"
	"github.com/matheus3301/wxm/internal/tui/ui"
	"github.com/rivo/tview"
)

// ContactList shows the contact directory grouped by sort bucket.
type ContactList struct {
	*tview.Table
	theme    *ui.Theme
	contacts []store.Contact
}

// NewContactList creates a new contact directory table.
func NewContactList(theme *ui.Theme) *ContactList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Contacts ")
	table.SetTitleColor(theme.TitleColor)

	return &ContactList{Table: table, theme: theme}
}

// Title implements ui.Component.
func (cl *ContactList) Title() string { return "Contacts" }

// Update renders contacts, already filtered, out of total.
func (cl *ContactList) Update(contacts []store.Contact, total int, filter string) {
	cl.contacts = contacts
	cl.Clear()

	for col, h := range []string{"  ", " NAME", " ID", " SIGNATURE"} {
		cl.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(min(col, 1)))
	}

	bucket := ""
	for i, c := range contacts {
		row := i + 1
		key := c.SortKey
		if key == "" {
			key = "#"
		}
		label := ""
		if key != bucket {
			label, bucket = key, key
		}
		fg := cl.theme.FgColor
		if c.Muted {
			fg = cl.theme.MutedColor
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(label)).SetTextColor(cl.theme.NumericKeyColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+cell(c.Name())).SetExpansion(1).SetTextColor(fg))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(c.ID)).SetExpansion(1).SetTextColor(fg))
		cl.SetCell(row, 3, tview.NewTableCell(" "+cell(oneLine(c.Signature))).SetExpansion(1).SetTextColor(fg))
	}

	if filter != "" {
		cl.SetTitle(fmt.Sprintf(" Contacts (%d/%d) filter: %s ", len(contacts), total, tview.Escape(filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Contacts (%d) ", total))
	}
}

// Selected returns the contact under the cursor.
func (cl *ContactList) Selected() (store.Contact, bool) {
	row, _ := cl.GetSelection()
	if row < 1 || row > len(cl.contacts) {
		return store.Contact{}, false
	}
	return cl.contacts[row-1], true
}
