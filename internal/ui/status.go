package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/bnema/dreampipe/internal/present"
)

// StatsMsg delivers a fresh compositor snapshot
type StatsMsg struct{ Stats present.Stats }

// StoppedMsg reports that the presentation loop exited
type StoppedMsg struct{ Err error }

// RescanDoneMsg carries the result of a rescan requested from the view
type RescanDoneMsg struct {
	Added int
	Err   error
}

// messageTTL is how long a transient message stays in the status bar
const messageTTL = 3 * time.Second

// StatusModel is the inline view of a running compositor: a status bar,
// one line per output and the most recent logs.
type StatusModel struct {
	stats   present.Stats
	started time.Time
	last    time.Time
	fps     float64
	spinner spinner.Model
	stopped bool
	err     error

	rescan        func() (int, error)
	rescanning    bool
	message       string
	messageExpiry time.Time

	logs         logBuffer
	windowHeight int
	windowWidth  int
}

// NewStatusModel creates a status model
func NewStatusModel() *StatusModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &StatusModel{
		started:      time.Now(),
		spinner:      s,
		logs:         logBuffer{max: 50},
		windowHeight: 24,
		windowWidth:  80,
	}
}

// SetRescan installs the function run by the rescan key
func (m *StatusModel) SetRescan(fn func() (int, error)) {
	m.rescan = fn
}

// SetMessage shows a transient message in the status bar
func (m *StatusModel) SetMessage(msg string) {
	m.message = msg
	m.messageExpiry = time.Now().Add(messageTTL)
}

func (m *StatusModel) currentMessage(now time.Time) string {
	if m.message == "" || now.After(m.messageExpiry) {
		return ""
	}
	return m.message
}

// Init initializes the status model
func (m *StatusModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the status model
func (m *StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			if m.rescan == nil || m.rescanning || m.stopped {
				return m, nil
			}
			m.rescanning = true
			fn := m.rescan
			return m, func() tea.Msg {
				added, err := fn()
				return RescanDoneMsg{Added: added, Err: err}
			}
		}

	case RescanDoneMsg:
		m.rescanning = false
		switch {
		case msg.Err != nil:
			m.SetMessage(IconError + " rescan failed: " + msg.Err.Error())
		case msg.Added == 0:
			m.SetMessage("no new outputs")
		default:
			m.SetMessage(fmt.Sprintf("%s %d new output(s)", IconSuccess, msg.Added))
		}

	case spinner.TickMsg:
		if m.stopped {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case StatsMsg:
		m.observe(msg.Stats, time.Now())

	case StoppedMsg:
		m.stopped = true
		m.err = msg.Err
		return m, tea.Quit

	case LogMsg:
		m.logs.add(msg.Entry)

	case tea.WindowSizeMsg:
		m.windowHeight = msg.Height
		m.windowWidth = msg.Width
	}
	return m, nil
}

// observe records a snapshot and updates the frame rate estimate
func (m *StatusModel) observe(stats present.Stats, at time.Time) {
	if !m.last.IsZero() && stats.Frames >= m.stats.Frames {
		if elapsed := at.Sub(m.last).Seconds(); elapsed > 0 {
			m.fps = float64(stats.Frames-m.stats.Frames) / elapsed
		}
	}
	m.stats = stats
	m.last = at
}

// View renders the status bar, the outputs and the logs
func (m *StatusModel) View() string {
	var out strings.Builder

	out.WriteString(m.renderStatusBar())
	out.WriteString("\n")

	for _, o := range m.stats.Outputs {
		out.WriteString(m.renderOutput(o))
		out.WriteString("\n")
	}

	if m.err != nil {
		out.WriteString(ErrorStyle.Render(IconError + " " + m.err.Error()))
		out.WriteString("\n")
	}

	available := m.windowHeight - len(m.stats.Outputs) - 2
	if available < 1 {
		available = 10
	}
	out.WriteString(m.logs.render(available))
	return out.String()
}

func (m *StatusModel) renderStatusBar() string {
	var parts []string

	parts = append(parts, NameStyle.Render("DREAMPIPE"))

	switch {
	case m.stopped:
		parts = append(parts, ErrorStyle.Render("■ Stopped"))
	case len(m.stats.Outputs) == 0:
		parts = append(parts, WarningStyle.Render(m.spinner.View()+" Waiting for outputs"))
	default:
		parts = append(parts, SuccessStyle.Render(IconConnected+" Presenting"))
	}

	parts = append(parts, SubtleStyle.Render(fmt.Sprintf("%d card(s)", m.stats.Devices)))
	parts = append(parts, SubtleStyle.Render(fmt.Sprintf("%d frame(s)", m.stats.Frames)))
	parts = append(parts, SubtleStyle.Render(fmt.Sprintf("%.1f fps", m.fps)))
	if msg := m.currentMessage(time.Now()); msg != "" {
		parts = append(parts, InfoStyle.Render(msg))
	}
	if m.rescan != nil {
		parts = append(parts, MutedStyle.Render("[r] rescan • [q] quit"))
	} else {
		parts = append(parts, MutedStyle.Render("[q] quit"))
	}

	return joinParts(parts)
}

func (m *StatusModel) renderOutput(o present.OutputStats) string {
	parts := []string{
		InfoStyle.Render(string(o.ID)),
		TextStyle.Render(o.Mode),
		SubtleStyle.Render(fmt.Sprintf("@%d,%d", o.X, o.Y)),
		StateStyle(o.State).Render(o.State.String()),
		SubtleStyle.Render(fmt.Sprintf("%d flips", o.Flips)),
	}
	if o.Dropped > 0 {
		parts = append(parts, WarningStyle.Render(fmt.Sprintf("%d dropped", o.Dropped)))
	}
	return "  " + joinParts(parts)
}
