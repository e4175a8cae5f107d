package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogMessage represents a single log entry
type LogMessage struct {
	Time    time.Time
	Level   LogLevel
	Message string
}

// LogManager keeps recent operator-facing messages and mirrors them into a
// text view.
type LogManager struct {
	textView *tview.TextView

	mu          sync.Mutex
	messages    []LogMessage
	maxMessages int
}

// NewLogManager creates a log manager holding at most maxMessages entries.
func NewLogManager(maxMessages int) *LogManager {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(maxMessages)
	textView.SetBorder(true).SetTitle(" Log ")

	return &LogManager{
		textView:    textView,
		messages:    make([]LogMessage, 0, maxMessages),
		maxMessages: maxMessages,
	}
}

// View returns the tview component.
func (lm *LogManager) View() tview.Primitive {
	return lm.textView
}

// Add records a message. The caller must be on the tview event goroutine
// (or before the application starts).
func (lm *LogManager) Add(level LogLevel, format string, args ...any) {
	msg := LogMessage{
		Time:    time.Now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	}

	lm.mu.Lock()
	lm.messages = append(lm.messages, msg)
	if len(lm.messages) > lm.maxMessages {
		lm.messages = lm.messages[len(lm.messages)-lm.maxMessages:]
	}
	lm.mu.Unlock()

	fmt.Fprint(lm.textView, formatLogLine(msg))
	lm.textView.ScrollToEnd()
}

// Messages returns a copy of the retained messages, oldest first.
func (lm *LogManager) Messages() []LogMessage {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return append([]LogMessage(nil), lm.messages...)
}

func levelColor(level LogLevel) string {
	switch level {
	case LogLevelError:
		return "red"
	case LogLevelWarn:
		return "yellow"
	case LogLevelDebug:
		return "gray"
	default:
		return "white"
	}
}

func formatLogLine(msg LogMessage) string {
	// escape so "[" in command output is not read as a color tag
	text := tview.Escape(strings.TrimRight(msg.Message, "\n"))
	return fmt.Sprintf("[gray]%s[-] [%s]%-5s[-] %s\n",
		msg.Time.Format("15:04:05"), levelColor(msg.Level), msg.Level, text)
}
