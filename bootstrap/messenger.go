package bootstrap

import (
	"fmt"
	"io"
	"log/slog"
)

// UserMessenger reports human-facing progress during extraction and
// daemon startup, independent of the structured log stream.
type UserMessenger interface {
	Message(msg string)
}

type terminalMessenger struct {
	writer io.Writer
}

// NewTerminalMessenger writes dimmed status lines to writer (typically
// os.Stderr).
func NewTerminalMessenger(writer io.Writer) UserMessenger {
	return &terminalMessenger{writer: writer}
}

func (tm *terminalMessenger) Message(msg string) {
	if tm.writer == nil {
		slog.Debug("userMsg (no writer)", "msg", msg)
		return
	}
	fmt.Fprintln(tm.writer, "\033[90m"+msg+"\033[0m")
}

type nullMessenger struct{}

// NewNullMessenger discards messages, logging them at debug level instead,
// for callers with no terminal to write to.
func NewNullMessenger() UserMessenger {
	return &nullMessenger{}
}

func (nm *nullMessenger) Message(msg string) {
	slog.Debug("userMsg (null messenger)", "msg", msg)
}
