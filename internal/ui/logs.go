package ui

import (
	"bytes"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// LogEntry represents a single log entry with timestamp and content
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// LogMsg carries a log entry into a running program
type LogMsg struct{ Entry LogEntry }

// Sender is the part of *tea.Program the log writer needs
type Sender interface {
	Send(msg tea.Msg)
}

// LogWriter turns logger output into LogMsg values, one per line, so logs
// scroll under the status bar instead of tearing the inline view.
type LogWriter struct {
	mu      sync.Mutex
	target  Sender
	pending []byte
	now     func() time.Time
}

// NewLogWriter returns a writer forwarding to target
func NewLogWriter(target Sender) *LogWriter {
	return &LogWriter{target: target, now: time.Now}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		line := string(w.pending[:i])
		w.pending = w.pending[i+1:]
		if strings.TrimSpace(line) == "" {
			continue
		}
		w.target.Send(LogMsg{Entry: ParseLogLine(line, w.now())})
	}
	return len(p), nil
}

// levels as abbreviated by charmbracelet/log
var levelNames = map[string]string{
	"DEBU": "DEBUG",
	"INFO": "INFO",
	"WARN": "WARN",
	"ERRO": "ERROR",
	"FATA": "FATAL",
}

// ParseLogLine extracts the level from a logger line. The timestamp and
// prefix columns are dropped, the rest is kept as the message.
func ParseLogLine(line string, at time.Time) LogEntry {
	entry := LogEntry{Timestamp: at, Level: "INFO", Message: line}
	fields := strings.Fields(line)
	for i, f := range fields {
		level, ok := levelNames[f]
		if !ok {
			continue
		}
		entry.Level = level
		rest := fields[i+1:]
		if len(rest) > 0 && strings.HasSuffix(rest[0], ":") {
			rest = rest[1:]
		}
		entry.Message = strings.Join(rest, " ")
		break
	}
	return entry
}

// logBuffer keeps the last max entries
type logBuffer struct {
	entries []LogEntry
	max     int
}

func (b *logBuffer) add(entry LogEntry) {
	b.entries = append(b.entries, entry)
	if len(b.entries) > b.max {
		b.entries = b.entries[len(b.entries)-b.max:]
	}
}

func (b *logBuffer) render(maxLines int) string {
	if len(b.entries) == 0 {
		return MutedStyle.Render("No logs yet...")
	}
	start := 0
	if len(b.entries) > maxLines {
		start = len(b.entries) - maxLines
	}
	lines := make([]string, 0, len(b.entries)-start)
	for _, entry := range b.entries[start:] {
		lines = append(lines, formatLogEntry(entry))
	}
	return strings.Join(lines, "\n")
}

func formatLogEntry(entry LogEntry) string {
	timeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	var levelStyle lipgloss.Style
	switch strings.ToUpper(entry.Level) {
	case "ERROR", "FATAL":
		levelStyle = ErrorStyle.Bold(true)
	case "WARN":
		levelStyle = WarningStyle.Bold(true)
	case "INFO":
		levelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	default:
		levelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	}

	return timeStyle.Render(entry.Timestamp.Format("15:04:05")) + " " +
		levelStyle.Render(padLevel(entry.Level)) + " " +
		lipgloss.NewStyle().Foreground(ColorHighlight).Render(entry.Message)
}

func padLevel(level string) string {
	level = strings.ToUpper(level)
	for len(level) < 5 {
		level += " "
	}
	return level
}
