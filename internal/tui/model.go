package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"meetmatch/internal/domain"
	"meetmatch/internal/format"
	"meetmatch/internal/fuzzy"
	"meetmatch/internal/service"
	"meetmatch/internal/session"
)

// Port is the TUI-facing subset of the recommendation service.
type Port interface {
	Search(query string) ([]fuzzy.Match, error)
	Recommend(ctx context.Context, req service.Request) (*service.Result, error)
}

// NewPort binds a Recommender to one session.
func NewPort(rec *service.Recommender, sess *session.Session) Port {
	return sessionPort{rec: rec, sess: sess}
}

type sessionPort struct {
	rec  *service.Recommender
	sess *session.Session
}

func (p sessionPort) Search(query string) ([]fuzzy.Match, error) { return p.rec.Search(p.sess, query) }

func (p sessionPort) Recommend(ctx context.Context, req service.Request) (*service.Result, error) {
	return p.rec.Recommend(ctx, p.sess, req)
}

type state int

const (
	stateSearch state = iota
	statePick
	stateGenerating
	stateResult
)

type recommendMsg struct {
	res *service.Result
	err error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	port     Port
	defaults service.Request
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	state    state
	matches  []fuzzy.Match
	cursor   int
	result   *service.Result
	style    format.Style
	summary  string
	status   string
	cancel   context.CancelFunc
	ready    bool
}

// New creates a new TUI model. defaults supplies K, direction and
// additional context for every request.
func New(port Port, defaults service.Request, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type your name and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		port:     port,
		defaults: defaults,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		style:    format.StyleLong,
		summary:  summary,
		status:   "Loaded. Type a name to search, or paste your profile and press ctrl+t.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and generation events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + summary
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderBody())
		return m, nil

	case recommendMsg:
		m.cancel = nil
		if msg.err != nil {
			m.state = stateSearch
			m.status = errorStatus(msg.err)
			m.viewport.SetContent(m.renderBody())
			return m, nil
		}
		m.state = stateResult
		m.result = msg.res
		m.status = resultStatus(msg.res)
		m.viewport.SetContent(m.renderBody())
		m.viewport.GotoTop()
		return m, nil

	case spinner.TickMsg:
		if m.state != stateGenerating {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m.handleKey(msg)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.state {
	case stateGenerating:
		if msg.Type == tea.KeyEsc && m.cancel != nil {
			m.cancel()
			m.status = "Cancelling..."
		}
		return m, nil

	case stateResult:
		switch msg.String() {
		case "tab":
			if m.style == format.StyleLong {
				m.style = format.StyleShort
			} else {
				m.style = format.StyleLong
			}
			m.viewport.SetContent(m.renderBody())
			return m, nil
		case "esc":
			m.state = stateSearch
			m.result = nil
			m.input.SetValue("")
			m.status = "Type a name to search."
			m.viewport.SetContent(m.renderBody())
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case statePick:
		switch msg.String() {
		case "down":
			m.cursor = (m.cursor + 1) % len(m.matches)
			m.viewport.SetContent(m.renderBody())
			return m, nil
		case "up":
			m.cursor = (m.cursor - 1 + len(m.matches)) % len(m.matches)
			m.viewport.SetContent(m.renderBody())
			return m, nil
		case "enter":
			pick := m.matches[m.cursor].Profile
			req := m.defaults
			req.Query = pick.Name
			req.ProfileID = pick.ID
			return m.generate(req, pick.Name)
		case "esc":
			m.state = stateSearch
			m.viewport.SetContent(m.renderBody())
			return m, nil
		}
		return m, nil
	}

	switch msg.String() {
	case "enter":
		q := strings.TrimSpace(m.input.Value())
		if q == "" {
			return m, nil
		}
		matches, err := m.port.Search(q)
		if err != nil {
			m.matches = nil
			m.status = errorStatus(err)
		} else {
			m.matches = matches
			m.cursor = 0
			m.state = statePick
			m.status = fmt.Sprintf("%d matches for %q. Up/down to choose, Enter to generate.", len(matches), q)
		}
		m.viewport.SetContent(m.renderBody())
		return m, nil
	case "ctrl+t":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		req := m.defaults
		req.ProfileText = text
		return m.generate(req, "your pasted profile")
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) generate(req service.Request, who string) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.state = stateGenerating
	m.status = "Generating recommendations for " + who + " (esc to cancel)"
	m.viewport.SetContent(m.renderBody())
	port := m.port
	run := func() tea.Msg {
		defer cancel()
		res, err := port.Recommend(ctx, req)
		return recommendMsg{res: res, err: err}
	}
	return m, tea.Batch(run, m.spinner.Tick)
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Meeting Recommendations")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	statusText := m.status
	if m.state == stateGenerating {
		statusText = m.spinner.View() + " " + statusText
	}
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(statusText)
	body := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + body + "\n" + input + "\n" + status
}

func (m Model) renderBody() string {
	switch m.state {
	case statePick:
		var b strings.Builder
		for i, match := range m.matches {
			line := fmt.Sprintf("%s  (%.0f%%)", match.Profile.Name, match.Score*100)
			if i == m.cursor {
				line = highlightStyle.Render("> " + line)
			} else {
				line = "  " + line
			}
			b.WriteString(line + "\n")
		}
		return b.String()
	case stateGenerating:
		return "Sampling the model and consolidating..."
	case stateResult:
		if m.result == nil {
			return ""
		}
		hint := dimStyle.Render(fmt.Sprintf("[%s view, tab to switch, esc for a new search]", m.style))
		return hint + "\n\n" + format.Render(m.result.Consolidated, m.style)
	}
	return "No results yet."
}

func resultStatus(res *service.Result) string {
	s := fmt.Sprintf("%d recommendations for %s", len(res.Consolidated), targetName(res.Target))
	if len(res.Diagnostics.Notes) > 0 {
		s += " (" + strings.Join(res.Diagnostics.Notes, "; ") + ")"
	}
	return s
}

func errorStatus(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "No attendee matches that name. Paste your profile text and press ctrl+t instead."
	case errors.Is(err, domain.ErrAllGenerationsFailed):
		return "Recommendations unavailable, please retry."
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	}
	return "Error: " + err.Error()
}

func targetName(t domain.Target) string {
	if t.Name != "" {
		return t.Name
	}
	return "your profile"
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)
