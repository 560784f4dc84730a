package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/daviddao/dnsprop_viewer/internal/config"
	"github.com/daviddao/dnsprop_viewer/internal/conn"
	"github.com/daviddao/dnsprop_viewer/internal/projection"
	"github.com/daviddao/dnsprop_viewer/internal/query"
	"github.com/daviddao/dnsprop_viewer/internal/session"
)

// --- Messages ---

// connEventMsg carries one event from the connection manager.
type connEventMsg struct {
	ev conn.Event
}

type configChangedMsg struct{}

type configLoadedMsg struct {
	cfg config.Config
	err error
}

// --- Key bindings ---

type keyMap struct {
	Submit   key.Binding
	NextType key.Binding
	PrevType key.Binding
	Focus    key.Binding
	Up       key.Binding
	Down     key.Binding
	Left     key.Binding
	Right    key.Binding
	Pill     key.Binding
	Help     key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Submit:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "run query")),
	NextType: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next type")),
	PrevType: key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev type")),
	Focus:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "input/results")),
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("k/up", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("j/down", "down")),
	Left:     key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("h", "prev filter")),
	Right:    key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("l", "next filter")),
	Pill:     key.NewBinding(key.WithKeys("0", "1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("0-9", "filter")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.NextType, k.Focus, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Submit, k.NextType, k.PrevType, k.Focus},
		{k.Up, k.Down, k.Left, k.Right},
		{k.Pill, k.Help, k.Quit},
	}
}

type focusArea int

const (
	focusInput focusArea = iota
	focusResults
)

// contextHelp returns help text for the focused area.
func contextHelp(f focusArea) string {
	if f == focusInput {
		return "enter: run | tab: record type | esc: results | ctrl+c: quit"
	}
	return "j/k: scroll | 0-9/h/l: filter | esc: edit | ?: help | q: quit"
}

// endpointSetter redirects the connection. *conn.Manager implements it.
type endpointSetter interface {
	SetEndpoint(endpoint string)
}

// --- Model ---

type uiModel struct {
	ctrl      *session.Controller
	endpoints endpointSetter
	view      *projection.View

	cfg       config.Config
	cfgPath   string
	overrides cliFlags
	endpoint  string

	input   textinput.Model
	typeIdx int
	focus   focusArea
	spinner spinner.Model

	width     int
	height    int
	scrollPos int

	help     help.Model
	showHelp bool

	autoSubmit bool   // run the prefilled domain once connected
	status     string // transient status-bar message
}

func newModel(ctrl *session.Controller, endpoints endpointSetter, cfg config.Config, endpoint string) uiModel {
	in := textinput.New()
	in.Placeholder = "example.com"
	in.Prompt = ""
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = accentStyle

	return uiModel{
		ctrl:      ctrl,
		endpoints: endpoints,
		view:      ctrl.View(),
		cfg:       cfg,
		endpoint:  endpoint,
		input:     in,
		typeIdx:   typeIndex(cfg.RecordType),
		spinner:   sp,
		help:      help.New(),
	}
}

// typeIndex returns the position of t in the record type list, or 0.
func typeIndex(t string) int {
	for i, rt := range query.RecordTypes {
		if strings.EqualFold(rt, t) {
			return i
		}
	}
	return 0
}

func (m uiModel) recordType() string { return query.RecordTypes[m.typeIdx] }

func (m uiModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(10, msg.Width-32)
		return m, nil

	case connEventMsg:
		m.ctrl.Handle(msg.ev)
		m.view = m.ctrl.View()
		if msg.ev.Kind == conn.EventState && msg.ev.State == conn.Connected && m.autoSubmit {
			m.autoSubmit = false
			m.submit()
		}
		return m, nil

	case configChangedMsg:
		return m, m.reloadConfig()

	case configLoadedMsg:
		if msg.err != nil {
			m.status = "config reload failed: " + msg.err.Error()
			return m, nil
		}
		cfg := msg.cfg
		applyFlags(&cfg, m.overrides)
		ep, err := conn.Endpoint(cfg.Server, cfg.Endpoint)
		if err != nil {
			m.status = "config reload failed: " + err.Error()
			return m, nil
		}
		m.cfg = cfg
		if ep != m.endpoint {
			m.endpoint = ep
			if m.endpoints != nil {
				m.endpoints.SetEndpoint(ep)
			}
			m.status = "switched to " + ep
		} else {
			m.status = "config reloaded"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.focus == focusInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m uiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	switch {
	case key.Matches(msg, keys.Submit):
		m.submit()
		return m, nil

	case key.Matches(msg, keys.NextType):
		m.typeIdx = (m.typeIdx + 1) % len(query.RecordTypes)
		return m, nil

	case key.Matches(msg, keys.PrevType):
		m.typeIdx = (m.typeIdx + len(query.RecordTypes) - 1) % len(query.RecordTypes)
		return m, nil

	case key.Matches(msg, keys.Focus):
		if m.focus == focusInput {
			m.focus = focusResults
			m.input.Blur()
			return m, nil
		}
		m.focus = focusInput
		m.showHelp = false
		return m, m.input.Focus()
	}

	if m.focus == focusInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp

	case key.Matches(msg, keys.Up):
		if m.scrollPos > 0 {
			m.scrollPos--
		}

	case key.Matches(msg, keys.Down):
		if m.scrollPos < len(m.view.Rows)-1 {
			m.scrollPos++
		}

	case key.Matches(msg, keys.Pill):
		m.selectPill(int(msg.String()[0] - '0'))

	case key.Matches(msg, keys.Left):
		m.cyclePill(-1)

	case key.Matches(msg, keys.Right):
		m.cyclePill(1)
	}
	return m, nil
}

// submit runs the current input. Rejections show up as a notice.
func (m *uiModel) submit() {
	m.status = ""
	_, err := m.ctrl.Submit(m.input.Value(), m.recordType())
	if errors.Is(err, session.ErrBusy) {
		m.status = "a query is already running"
	}
	m.view = m.ctrl.View()
	m.scrollPos = 0
}

// selectPill applies the i-th pill. Index 0 is All.
func (m *uiModel) selectPill(i int) {
	if i < 0 || i >= len(m.view.Pills) {
		return
	}
	p := m.view.Pills[i]
	if p.All {
		m.ctrl.ShowAll()
	} else {
		m.ctrl.ToggleFilter(p.Category)
	}
	m.view = m.ctrl.View()
	m.scrollPos = 0
}

func (m *uiModel) cyclePill(delta int) {
	n := len(m.view.Pills)
	if n == 0 {
		return
	}
	cur := 0
	for i, p := range m.view.Pills {
		if p.Active {
			cur = i
			break
		}
	}
	m.selectPill(((cur+delta)%n + n) % n)
}

func (m uiModel) reloadConfig() tea.Cmd {
	path := m.cfgPath
	return func() tea.Msg {
		cfg, err := config.Load(path)
		return configLoadedMsg{cfg: cfg, err: err}
	}
}

// --- Styles ---

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1E1E2E")).
			Padding(0, 1)

	typeActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086")).
			Background(lipgloss.Color("#313244")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#89B4FA"))

	accentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7C3AED"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#A6E3A1"))

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAB387"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#1E1E2E"))
)

func connStyle(s conn.State) lipgloss.Style {
	switch s {
	case conn.Connected:
		return okStyle
	case conn.Connecting:
		return warnStyle
	}
	return badStyle
}

func noticeStyle(k session.NoticeKind) lipgloss.Style {
	switch k {
	case session.NoticeOK:
		return okStyle
	case session.NoticeWarn:
		return warnStyle
	case session.NoticeBad:
		return badStyle
	}
	return dimStyle
}

// --- View rendering ---

func (m uiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderTitleBar())
	b.WriteString("\n\n")
	b.WriteString(m.renderInput())
	b.WriteString("\n\n")
	if banner := m.renderBanner(); banner != "" {
		b.WriteString(banner)
		b.WriteString("\n\n")
	}
	if pills := m.renderPills(); pills != "" {
		b.WriteString(pills)
		b.WriteString("\n\n")
	}

	// The table fills whatever is left above the status bar.
	tableHeight := m.height - strings.Count(b.String(), "\n") - 2
	if m.showHelp {
		tableHeight -= 3
	}
	b.WriteString(m.renderTable(max(1, tableHeight)))

	content := truncateLines(b.String(), m.width)

	var out strings.Builder
	out.WriteString(content)
	rendered := strings.Count(content, "\n")
	for rendered < m.height-2 {
		out.WriteRune('\n')
		rendered++
	}
	out.WriteRune('\n')

	if m.showHelp {
		out.WriteString(m.help.View(keys))
	} else {
		out.WriteString(m.renderStatusBar())
	}
	return out.String()
}

func (m uiModel) renderTitleBar() string {
	s := m.ctrl.Session()
	title := titleStyle.Render("dns propagation")
	state := connStyle(s.Conn).Render("● "+s.Conn.String()) + dimStyle.Render("  "+m.endpoint)
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(title)-lipgloss.Width(state)-1))
	return title + gap + state
}

func (m uiModel) renderInput() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("Domain"))
	b.WriteRune(' ')
	b.WriteString(m.input.View())
	b.WriteString("  ")
	b.WriteString(labelStyle.Render("Type"))
	b.WriteRune(' ')
	b.WriteString(dimStyle.Render("‹ "))
	b.WriteString(typeActiveStyle.Render(m.recordType()))
	b.WriteString(dimStyle.Render(" ›"))
	if !m.ctrl.CanSubmit() {
		b.WriteString(dimStyle.Render("  (run disabled)"))
	}
	return b.String()
}

func (m uiModel) renderBanner() string {
	s := m.ctrl.Session()
	n := m.ctrl.Notice()
	if n.Kind == session.NoticeNone && !s.Interrupted {
		return ""
	}

	var lines []string
	if n.Kind != session.NoticeNone {
		st := noticeStyle(n.Kind)
		head := st.Bold(true).Render(n.Title)
		if s.Query == session.Running && !s.Interrupted && n.Title == "Running" {
			head = m.spinner.View() + " " + head
		}
		lines = append(lines, head+" "+st.Render(n.Text))
		if n.Sub != "" {
			lines = append(lines, dimStyle.Render(n.Sub))
		}
	}
	if s.Interrupted {
		lines = append(lines, warnStyle.Render("Connection lost mid-query; results may be incomplete. Press enter to run again."))
	}
	return strings.Join(lines, "\n")
}

func (m uiModel) renderPills() string {
	if len(m.view.Pills) == 0 {
		return ""
	}
	var parts []string
	for i, p := range m.view.Pills {
		label := fmt.Sprintf("%s %s %d", p.Badge, p.Label, p.Count)
		if p.All {
			label = fmt.Sprintf("%s %d", p.Label, p.Count)
		}
		if i < 10 {
			label = fmt.Sprintf("%d:%s", i, label)
		}
		st := lipgloss.NewStyle().Foreground(lipgloss.Color(p.Color.Hex)).Padding(0, 1)
		if p.Active {
			st = st.Bold(true).
				Foreground(lipgloss.Color("#1E1E2E")).
				Background(lipgloss.Color(p.Color.Hex))
		}
		parts = append(parts, st.Render(label))
	}
	return strings.Join(parts, " ")
}

// Column widths of the results table.
const (
	colResolver = 30
	colServer   = 16
	colStatus   = 5
	colLatency  = 8
	colTTL      = 7
)

func (m uiModel) renderTable(height int) string {
	if m.view.Total == 0 {
		if m.ctrl.Session().Query == session.Running {
			return dimStyle.Render("  Waiting for resolvers...")
		}
		return dimStyle.Render("  No results yet. Enter a domain and press enter.")
	}

	var lines []string
	header := padOrTruncate("   RESOLVER", colResolver+3) + " " +
		padOrTruncate("SERVER", colServer) + " " +
		padOrTruncate("OK", colStatus) + " " +
		padOrTruncate("LATENCY", colLatency) + " " +
		padOrTruncate("TTL", colTTL) + " ANSWER"
	lines = append(lines, headerStyle.Render(header))

	if len(m.view.Rows) == 0 {
		lines = append(lines, dimStyle.Render("  No results in this category."))
		return strings.Join(lines, "\n")
	}

	rows := m.view.Rows
	scrollPos := min(m.scrollPos, len(rows)-1)
	rows = rows[scrollPos:]
	if len(rows) > height-1 {
		rows = rows[:max(0, height-1)]
	}

	for _, r := range rows {
		status := okStyle.Render(padOrTruncate("ok", colStatus))
		if !r.OK {
			status = badStyle.Render(padOrTruncate("fail", colStatus))
		}
		lines = append(lines,
			padOrTruncate(r.Code, 2)+" "+
				padOrTruncate(r.Title, colResolver)+" "+
				dimStyle.Render(padOrTruncate(r.ServerIP, colServer))+" "+
				status+" "+
				padOrTruncate(r.Latency, colLatency)+" "+
				padOrTruncate(r.TTL, colTTL)+" "+
				strings.Join(r.Values, ", "))
	}
	return strings.Join(lines, "\n")
}

func (m uiModel) renderStatusBar() string {
	left := " " + contextHelp(m.focus)
	if m.status != "" {
		left = " " + m.status
	}

	s := m.ctrl.Session()
	right := fmt.Sprintf("%d/%d shown", m.view.Visible, m.view.Total)
	if !s.StartedAt.IsZero() {
		end := s.FinishedAt
		if end.IsZero() {
			end = time.Now()
		}
		right += " | " + s.Query.String() + " " + shortDuration(end.Sub(s.StartedAt))
	}
	right += " "

	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)))
	return statusBarStyle.Render(truncate(left+gap+right, m.width))
}

// --- Helpers ---

// padOrTruncate pads or truncates s to the target visible width.
func padOrTruncate(s string, width int) string {
	w := lipgloss.Width(s)
	if w > width {
		return ansi.Truncate(s, width, "…")
	}
	return s + strings.Repeat(" ", width-w)
}

// truncateLines truncates each line in content to at most width visible
// characters, preserving ANSI escape codes. This prevents terminal line
// wrapping when the window is resized narrower.
func truncateLines(content string, width int) string {
	if width <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			lines[i] = ansi.Truncate(line, width, "")
		}
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if lipgloss.Width(s) <= n {
		return s
	}
	return ansi.Truncate(s, n, "...")
}

func shortDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
