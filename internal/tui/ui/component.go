package ui

import "github.com/rivo/tview"

// MenuHint describes a keyboard shortcut for display in the menu bar.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // true for 0-9 shortcuts (displayed in a different color)
}

// Component is a page the viewer can push onto the page stack.
type Component interface {
	tview.Primitive
	// Title is the label shown in the breadcrumb trail.
	Title() string
}
