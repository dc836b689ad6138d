package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// FlashLevel represents the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

// FlashMessage is a flash notification with a level and expiry.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// FlashModel holds the latest transient notification. It is written from the
// consumer goroutine and read by the render loop.
type FlashModel struct {
	mu      sync.RWMutex
	current FlashMessage
	now     func() time.Time
}

// NewFlashModel creates a new flash model.
func NewFlashModel() *FlashModel {
	return &FlashModel{now: time.Now}
}

// Info sets an info-level flash message.
func (f *FlashModel) Info(msg string) {
	f.set(msg, FlashInfo, 5*time.Second)
}

// Warn sets a warn-level flash message.
func (f *FlashModel) Warn(msg string) {
	f.set(msg, FlashWarn, 8*time.Second)
}

// Err sets an error-level flash message. Errors stay until replaced.
func (f *FlashModel) Err(err error) {
	f.set(err.Error(), FlashErr, 0)
}

func (f *FlashModel) set(msg string, level FlashLevel, d time.Duration) {
	fm := FlashMessage{Text: msg, Level: level}
	if d > 0 {
		fm.Expires = f.now().Add(d)
	}
	f.mu.Lock()
	f.current = fm
	f.mu.Unlock()
}

// Current returns the live flash message, or false if there is none or it
// has expired.
func (f *FlashModel) Current() (FlashMessage, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m := f.current
	if m.Text == "" || (!m.Expires.IsZero() && f.now().After(m.Expires)) {
		return FlashMessage{}, false
	}
	return m, true
}

// FlashBar is the UI component that displays flash notifications.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

// NewFlashBar creates a new flash notification bar.
func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &FlashBar{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the model's current message, clearing the bar when there
// is none.
func (fb *FlashBar) Update(model *FlashModel) {
	fb.Clear()
	msg, ok := model.Current()
	if !ok {
		return
	}

	color := fb.theme.FlashInfoColor
	switch msg.Level {
	case FlashWarn:
		color = fb.theme.FlashWarnColor
	case FlashErr:
		color = fb.theme.FlashErrColor
	}
	_, _ = fmt.Fprintf(fb, " [%s]%s[-]", ColorName(color), tview.Escape(msg.Text))
}
