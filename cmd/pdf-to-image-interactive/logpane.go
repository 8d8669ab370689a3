package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

type logLevel int

const (
	levelInfo logLevel = iota
	levelSuccess
	levelWarn
	levelError
)

type logEntry struct {
	at      time.Time
	message string
	level   logLevel
}

// logPane is the session's output log: every line is timestamped, printed as it arrives
// and kept so it can be reviewed or cleared from the menu.
type logPane struct {
	out     io.Writer
	now     func() time.Time
	entries []logEntry
}

func newLogPane(out io.Writer) *logPane {
	return &logPane{out: out, now: time.Now, entries: nil}
}

func (pane *logPane) add(level logLevel, format string, args ...any) {
	entry := logEntry{at: pane.now(), message: fmt.Sprintf(format, args...), level: level}
	pane.entries = append(pane.entries, entry)
	pane.print(entry)
}

func (pane *logPane) info(format string, args ...any)    { pane.add(levelInfo, format, args...) }
func (pane *logPane) success(format string, args ...any) { pane.add(levelSuccess, format, args...) }
func (pane *logPane) warn(format string, args ...any)    { pane.add(levelWarn, format, args...) }
func (pane *logPane) fail(format string, args ...any)    { pane.add(levelError, format, args...) }

func (pane *logPane) print(entry logEntry) {
	line := formatEntry(entry)

	switch entry.level {
	case levelSuccess:
		_, _ = color.New(color.FgGreen).Fprintln(pane.out, line)
	case levelWarn:
		_, _ = color.New(color.FgYellow).Fprintln(pane.out, line)
	case levelError:
		_, _ = color.New(color.FgRed).Fprintln(pane.out, line)
	case levelInfo:
		_, _ = fmt.Fprintln(pane.out, line)
	}
}

// replay prints the whole log again.
func (pane *logPane) replay() {
	if len(pane.entries) == 0 {
		_, _ = fmt.Fprintln(pane.out, "(log is empty)")

		return
	}

	for _, entry := range pane.entries {
		pane.print(entry)
	}
}

func (pane *logPane) clear() {
	pane.entries = nil
}

func formatEntry(entry logEntry) string {
	return fmt.Sprintf("[%s] %s", entry.at.Format("15:04:05"), entry.message)
}
