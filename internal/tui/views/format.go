package views

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rivo/tview"
)

// cell escapes s for a tview cell after dropping runes the terminal cannot
// lay out: skin tone modifiers, zero width joiners and variation selectors
// split a single emoji into several cells in tcell.
func cell(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !joinsGlyphs(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return tview.Escape(b.String())
}

func joinsGlyphs(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	}
	return false
}

// oneLine collapses a message body to its first line for list previews.
func oneLine(s string) string {
	if first, _, found := strings.Cut(s, "\n"); found {
		return first + " …"
	}
	return s
}

// stamp formats a time as clock time today and month/day otherwise.
func stamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

func stampMillis(ms int64, now time.Time) string {
	if ms == 0 {
		return ""
	}
	return stamp(time.UnixMilli(ms), now)
}
