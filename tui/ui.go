// Package tui is the terminal display: the live transcript of one session
// and the speaker roster, fed by relay views.
package tui

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"node.town/uam/relay"
	"node.town/uam/status"
	"node.town/uam/transcript"
)

var (
	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)
	speakerStyle = lipgloss.NewStyle().Bold(true)
	bufferStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	dividerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Sanitize makes backend or platform text safe to print: escape sequences
// are stripped and control characters become spaces.
func Sanitize(s string) string {
	s = ansi.Strip(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}

func stateColor(s fmt.Stringer) lipgloss.Color {
	switch s.String() {
	case "Forwarding", "Connected":
		return lipgloss.Color("#25A065")
	case "Error":
		return lipgloss.Color("#FF0000")
	case "Connecting":
		return lipgloss.Color("#FFFF00")
	default:
		return lipgloss.Color("240")
	}
}

func styledState(s fmt.Stringer) string {
	return lipgloss.NewStyle().Foreground(stateColor(s)).Render(s.String())
}

// TranscriptView renders finalized lines, the boundary divider and the
// active buffer.
func TranscriptView(r transcript.Rendered) string {
	var b strings.Builder
	for _, l := range r.Lines {
		b.WriteString(speakerStyle.Render(Sanitize(l.Label())))
		b.WriteString(": ")
		b.WriteString(Sanitize(l.Text))
		b.WriteString("\n")
	}
	if r.BoundaryLast {
		b.WriteString(dividerStyle.Render("────────"))
		b.WriteString("\n")
	}
	if r.Active != nil {
		text := Sanitize(r.Active.Text)
		if r.Active.Source != "" {
			text = Sanitize(r.Active.Source) + ": " + text
		}
		b.WriteString(bufferStyle.Render(text))
		b.WriteString("\n")
	}
	return b.String()
}

// RosterView lists a session's speakers.
func RosterView(s status.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "viewer %s\n\n", styledState(s.Viewer))
	if len(s.Rows) == 0 {
		b.WriteString("no speakers yet\n")
	}
	for _, row := range s.Rows {
		fmt.Fprintf(&b, "%-24s %-16s %s\n",
			Sanitize(row.Name),
			Sanitize(row.SpeakerID),
			styledState(row.State),
		)
	}
	return b.String()
}

type model struct {
	viewport   viewport.Model
	views      <-chan relay.View
	view       relay.View
	selected   int
	showRoster bool
	ready      bool
}

func initialModel(views <-chan relay.View) model {
	return model{views: views}
}

func (m model) Init() tea.Cmd {
	return waitForView(m.views)
}

func waitForView(views <-chan relay.View) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-views
		if !ok {
			return tea.Quit()
		}
		return v
	}
}

func (m model) session() (status.Session, bool) {
	sessions := m.view.Status.Sessions
	if len(sessions) == 0 {
		return status.Session{}, false
	}
	i := min(m.selected, len(sessions)-1)
	return sessions[i], true
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "tab":
			m.showRoster = !m.showRoster
			m.viewport.SetContent(m.contentView())
		case "left", "h":
			if m.selected > 0 {
				m.selected--
			}
			m.viewport.SetContent(m.contentView())
		case "right", "l":
			if m.selected < len(m.view.Status.Sessions)-1 {
				m.selected++
			}
			m.viewport.SetContent(m.contentView())
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		verticalMarginHeight := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMarginHeight)
			m.viewport.YPosition = headerHeight
			m.viewport.SetContent(m.contentView())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMarginHeight
		}

	case relay.View:
		atBottom := m.viewport.AtBottom()
		m.view = msg
		m.viewport.SetContent(m.contentView())
		if atBottom {
			m.viewport.GotoBottom()
		}
		cmds = append(cmds, waitForView(m.views))
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf(
		"%s\n%s\n%s",
		m.headerView(),
		m.viewport.View(),
		m.footerView(),
	)
}

func (m model) headerView() string {
	title := "uam"
	if s, ok := m.session(); ok {
		title = fmt.Sprintf("uam · %s (%d/%d)",
			Sanitize(s.StreamID),
			min(m.selected, len(m.view.Status.Sessions)-1)+1,
			len(m.view.Status.Sessions),
		)
	}
	rendered := barStyle.Render(title)
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(rendered)))
	return lipgloss.JoinHorizontal(lipgloss.Center, rendered, line)
}

func (m model) footerView() string {
	info := barStyle.Render(fmt.Sprintf(
		"upstream %s · q quit · tab roster · ←/→ session",
		m.view.Status.Upstream,
	))
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(info)))
	return lipgloss.JoinHorizontal(lipgloss.Center, line, info)
}

func (m model) contentView() string {
	s, ok := m.session()
	if !ok {
		return "waiting for a session...\n"
	}
	if m.showRoster {
		return RosterView(s)
	}
	r, _ := m.view.Transcript(s.StreamID)
	return TranscriptView(r)
}

// Run shows the UI until the user quits or ctx is done.
func Run(ctx context.Context, views <-chan relay.View) error {
	p := tea.NewProgram(
		initialModel(views),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	return err
}
