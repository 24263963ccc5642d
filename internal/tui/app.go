// internal/tui/app.go
//
// This is the interactive report browser behind `lintreports browse`.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: the lint result and what is on screen
// 2. Update: a function that updates state based on messages
// 3. View: a function that renders state to a string
//
// The flow is: User Input -> Message -> Update -> New Model -> View -> Screen

package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/lintreports/internal/lint"
	"github.com/kingrea/lintreports/internal/logbook"
	"github.com/kingrea/lintreports/internal/report"
)

// appState represents which "screen" we're on
type appState int

const (
	stateReportList   appState = iota // Every parsed report
	stateReportDetail                 // One report with its findings
)

// Loader produces a fresh lint result. It runs on start and on every reload.
type Loader func(ctx context.Context) (*lint.Result, error)

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithLogbook shows the tail of the run log under the board.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = lb
	}
}

// WithTitle overrides the header, which defaults to the directory name.
func WithTitle(title string) AppOption {
	return func(a *App) {
		if strings.TrimSpace(title) != "" {
			a.title = title
		}
	}
}

type resultMsg struct {
	result *lint.Result
	err    error
}

// App is the browser model. In bubbletea, this holds ALL your state.
type App struct {
	state   appState
	ctx     context.Context
	load    Loader
	logbook *logbook.Logbook
	title   string

	result   *lint.Result
	findings map[string][]finding
	loading  bool
	err      error

	// UI components
	reportList list.Model
	detail     *detailView
	statusMsg  string

	// Window size (we get this from bubbletea)
	width  int
	height int
}

// reportItem implements list.Item for one parsed report.
type reportItem struct {
	report   *report.AgentReport
	findings int
}

func (i reportItem) Title() string {
	if i.report.HasPosition() {
		return fmt.Sprintf("#%02d %s", i.report.Position, i.report.AgentID)
	}
	return fmt.Sprintf("#?? %s", i.report.AgentID)
}

func (i reportItem) Description() string {
	status := i.report.Status
	if status == "" {
		status = "no status"
	}
	return fmt.Sprintf("%s · %d warnings · %d findings · %s", status, len(i.report.Warnings), i.findings, i.report.Path)
}

func (i reportItem) FilterValue() string { return i.report.AgentID }

// NewApp creates a browser that pulls results from load.
func NewApp(ctx context.Context, dir string, load Loader, opts ...AppOption) *App {
	reportList := list.New(nil, list.NewDefaultDelegate(), 80, 20)
	reportList.Title = "REPORTS"
	reportList.SetShowStatusBar(false)

	app := &App{
		state:      stateReportList,
		ctx:        ctx,
		load:       load,
		title:      filepath.Base(dir),
		reportList: reportList,
		width:      80,
		height:     24,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.reload()
}

func (a *App) reload() tea.Cmd {
	a.loading = true
	a.statusMsg = "Linting..."
	ctx, load := a.ctx, a.load
	return func() tea.Msg {
		res, err := load(ctx)
		return resultMsg{result: res, err: err}
	}
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.reportList.SetSize(max(0, msg.Width-6), max(0, msg.Height-10))
		if a.detail != nil {
			a.detail.setSize(max(0, msg.Width-6), max(0, msg.Height-10))
		}
		return a, nil

	case resultMsg:
		a.loading = false
		if msg.err != nil {
			a.err = msg.err
			a.statusMsg = fmt.Sprintf("Lint failed: %v", msg.err)
			a.logbook.Error("browse: lint failed: %v", msg.err)
			return a, nil
		}
		a.err = nil
		return a, a.applyResult(msg.result)

	case tea.KeyMsg:
		filtering := a.state == stateReportList && a.reportList.FilterState() == list.Filtering
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit
		case "q":
			if !filtering {
				return a, tea.Quit
			}
		case "esc":
			if a.state == stateReportDetail {
				a.state = stateReportList
				a.detail = nil
				return a, nil
			}
		case "r":
			if !filtering && !a.loading {
				return a, a.reload()
			}
		case "enter":
			if a.state == stateReportList && !filtering {
				if item, ok := a.reportList.SelectedItem().(reportItem); ok {
					a.openDetail(item.report)
				}
				return a, nil
			}
		}
	}

	var cmd tea.Cmd
	switch a.state {
	case stateReportList:
		a.reportList, cmd = a.reportList.Update(msg)
	case stateReportDetail:
		if a.detail != nil {
			cmd = a.detail.Update(msg)
		}
	}
	return a, cmd
}

func (a *App) applyResult(res *lint.Result) tea.Cmd {
	a.result = res
	a.findings = indexFindings(res)
	items := make([]list.Item, len(res.Reports))
	for i, r := range res.Reports {
		items[i] = reportItem{report: r, findings: len(a.findings[r.AgentID])}
	}
	s := res.Summary
	a.statusMsg = fmt.Sprintf("%d reports · %d errors · %d warnings · %d info", s.Reports, s.Errors, s.Warnings, s.Info)
	if a.state == stateReportDetail && a.detail != nil {
		a.refreshDetail()
	}
	return a.reportList.SetItems(items)
}

func (a *App) openDetail(r *report.AgentReport) {
	a.detail = newDetailView(r, a.findings[r.AgentID], max(20, a.width-6), max(5, a.height-10))
	a.state = stateReportDetail
}

// refreshDetail re-opens the current report after a reload, or falls back to
// the list when it disappeared.
func (a *App) refreshDetail() {
	path := a.detail.report.Path
	for _, r := range a.result.Reports {
		if r.Path == path {
			a.openDetail(r)
			return
		}
	}
	a.state = stateReportList
	a.detail = nil
}

// View renders the current state.
func (a *App) View() string {
	var content string
	switch a.state {
	case stateReportDetail:
		if a.detail != nil {
			content = a.detail.View()
		}
	default:
		switch {
		case a.result == nil && a.err != nil:
			content = "Nothing to show."
		case a.result == nil:
			content = "Loading reports..."
		case len(a.result.Reports) == 0:
			content = "No reports found."
		default:
			content = a.reportList.View()
		}
	}
	return a.renderBoard(content)
}

func (a *App) renderBoard(mainContent string) string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render(fmt.Sprintf("⬡ LINTREPORTS · %s", a.title))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(20, a.width-2)).
		Render(mainContent)
	sections := []string{header, box}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.footerText())
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) footerText() string {
	hint := "enter: open · /: filter · r: reload · q: quit"
	if a.state == stateReportDetail {
		hint = "↑/↓: scroll · esc: back · r: reload · q: quit"
	}
	if a.statusMsg == "" {
		return hint
	}
	return a.statusMsg + "\n" + hint
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil || a.logbook.Path() == "" {
		return ""
	}
	lines, _ := a.logbook.Tail(6)
	if len(lines) == 0 {
		return ""
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", filepath.Base(a.logbook.Path())))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

// Run starts the browser on the terminal and blocks until the user quits.
func Run(ctx context.Context, app *App) error {
	_, err := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
