// internal/tui/app.go
//
// Live progress view for running sessions. It follows The Elm Architecture
// like every bubbletea program: events from the bridge arrive as messages,
// Update folds them into per-topic counters, and View renders the board.
// When the run finishes the stored results are shown in a scrollable
// viewport.

package tui

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/deliberate/internal/eventbridge"
	"github.com/kingrea/deliberate/internal/logbook"
	"github.com/kingrea/deliberate/internal/report"
)

const logLines = 8

var phaseOrder = []string{"submissions", "votes", "results"}

// Runner performs the work the board is watching and returns the reports
// to show once it is done. It runs off the UI goroutine.
type Runner func() ([]*report.Report, error)

// Option customizes App construction.
type Option func(*App)

// WithRunner starts r when the program starts.
func WithRunner(r Runner) Option {
	return func(a *App) { a.runner = r }
}

// WithLogbook adds a tail of the journal under the board.
func WithLogbook(lb *logbook.Logbook) Option {
	return func(a *App) { a.logbook = lb }
}

// WithTopicTitles names topics ahead of their first event.
func WithTopicTitles(titles map[string]string) Option {
	return func(a *App) {
		for id, title := range titles {
			a.titles[id] = title
		}
	}
}

// WithTitle overrides the header.
func WithTitle(title string) Option {
	return func(a *App) {
		if title != "" {
			a.title = title
		}
	}
}

type eventMsg struct{ event eventbridge.Event }

type streamClosedMsg struct{}

type runFinishedMsg struct {
	reports []*report.Report
	err     error
}

type topicProgress struct {
	id        string
	accepted  int
	rejected  int
	collected bool
	eligible  int
	firstSeen time.Time
}

// App is the bubbletea model for a run.
type App struct {
	events  <-chan eventbridge.Event
	runner  Runner
	logbook *logbook.Logbook
	title   string

	sessionID   string
	sessionName string
	phase       string
	done        map[string]bool
	titles      map[string]string
	topics      map[string]*topicProgress
	sessions    int
	location    string
	statusMsg   string
	err         error
	finished    bool

	spinner spinner.Model
	results viewport.Model
	hasView bool
	width   int
	height  int
}

// NewApp builds a board fed by events. events may be nil when only a
// runner is supplied.
func NewApp(events <-chan eventbridge.Event, opts ...Option) *App {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	a := &App{
		events:    events,
		title:     "⬡ DELIBERATE",
		done:      make(map[string]bool),
		titles:    make(map[string]string),
		topics:    make(map[string]*topicProgress),
		spinner:   sp,
		statusMsg: "Waiting for events...",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Err reports the runner's failure, if any, after the program exits.
func (a *App) Err() error { return a.err }

// Init starts the spinner, the event pump and the runner.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.spinner.Tick}
	if a.events != nil {
		cmds = append(cmds, waitForEvent(a.events))
	}
	if a.runner != nil {
		cmds = append(cmds, runCmd(a.runner))
	}
	return tea.Batch(cmds...)
}

func waitForEvent(ch <-chan eventbridge.Event) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg{event: evt}
	}
}

func runCmd(r Runner) tea.Cmd {
	return func() tea.Msg {
		reports, err := r()
		return runFinishedMsg{reports: reports, err: err}
	}
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		if a.hasView {
			a.results.Width = max(20, msg.Width-4)
			a.results.Height = max(5, msg.Height-6)
		}
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		}
		if a.hasView {
			var cmd tea.Cmd
			a.results, cmd = a.results.Update(msg)
			return a, cmd
		}
		return a, nil

	case eventMsg:
		a.apply(msg.event)
		return a, waitForEvent(a.events)

	case streamClosedMsg:
		if a.runner == nil {
			a.finished = true
			a.statusMsg = "Stream closed. Press q to quit."
		}
		return a, nil

	case runFinishedMsg:
		a.finished = true
		a.err = msg.err
		if msg.err != nil {
			a.statusMsg = fmt.Sprintf("Run failed: %v", msg.err)
			a.logbook.Error("run failed: %v", msg.err)
		} else {
			a.statusMsg = "Done. Scroll with ↑/↓, q to quit."
		}
		if len(msg.reports) > 0 {
			a.showReports(msg.reports)
		}
		return a, nil

	case spinner.TickMsg:
		if a.finished {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

// apply folds one event into the board.
func (a *App) apply(evt eventbridge.Event) {
	switch evt.Type {
	case eventbridge.TypeSessionStart:
		a.sessions++
		a.sessionID = evt.SessionID
		a.sessionName = evt.Detail
		a.phase = ""
		a.location = ""
		a.done = make(map[string]bool)
		a.topics = make(map[string]*topicProgress)
		a.statusMsg = fmt.Sprintf("Session %s started", evt.Detail)
	case eventbridge.TypePhaseStart:
		a.phase = evt.Detail
		a.statusMsg = fmt.Sprintf("Collecting %s...", evt.Detail)
	case eventbridge.TypePhaseEnd:
		a.done[evt.Detail] = true
	case eventbridge.TypeSubmission:
		a.topic(evt).accepted++
	case eventbridge.TypeSubmissionRejected:
		a.topic(evt).rejected++
		a.statusMsg = fmt.Sprintf("%s produced no valid submission", evt.Detail)
	case eventbridge.TypeVotesCollected:
		tp := a.topic(evt)
		tp.collected = true
		if evt.Detail != "" {
			a.titles[evt.TopicID] = evt.Detail
		}
		var payload struct {
			Submissions int `json:"submissions"`
		}
		if decodePayload(evt, &payload) {
			tp.eligible = payload.Submissions
		}
	case eventbridge.TypeSessionEnd:
		a.location = evt.Detail
		a.statusMsg = fmt.Sprintf("Session %s complete", a.sessionName)
	case eventbridge.TypeError:
		a.statusMsg = fmt.Sprintf("Error: %s", evt.Detail)
	}
}

func (a *App) topic(evt eventbridge.Event) *topicProgress {
	tp, ok := a.topics[evt.TopicID]
	if !ok {
		tp = &topicProgress{id: evt.TopicID, firstSeen: evt.Time}
		a.topics[evt.TopicID] = tp
	}
	return tp
}

func (a *App) showReports(reports []*report.Report) {
	var b strings.Builder
	for i, r := range reports {
		if i > 0 {
			b.WriteString("\n")
		}
		if err := r.Render(&b, false); err != nil {
			fmt.Fprintf(&b, "render %s: %v\n", r.Session.Name, err)
		}
	}
	width, height := a.width, a.height
	if width <= 0 {
		width = 100
	}
	if height <= 0 {
		height = 30
	}
	a.results = viewport.New(max(20, width-4), max(5, height-6))
	a.results.SetContent(b.String())
	a.hasView = true
}

// View renders the board, or the results once they are in.
func (a *App) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render(a.title)
	var main string
	if a.hasView {
		main = a.results.View()
	} else {
		main = a.renderProgress()
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(main)
	sections := []string{header, box}
	if !a.hasView {
		if logPanel := a.renderLogPanel(); logPanel != "" {
			sections = append(sections, logPanel)
		}
	}
	status := a.statusMsg
	if !a.finished {
		status = a.spinner.View() + " " + status
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(status)
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderProgress() string {
	var lines []string
	name := a.sessionName
	if name == "" {
		name = "waiting"
	}
	if a.sessionID != "" {
		name += " (" + shortID(a.sessionID) + ")"
	}
	lines = append(lines, lipgloss.NewStyle().Bold(true).Render("Session: "+name))
	if a.sessions > 1 {
		lines = append(lines, fmt.Sprintf("Sessions seen: %d", a.sessions))
	}
	lines = append(lines, a.renderPhaseLine(), "")

	if len(a.topics) == 0 {
		lines = append(lines, lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render("No topic activity yet."))
	}
	for _, tp := range a.sortedTopics() {
		title := a.titles[tp.id]
		if title == "" {
			title = shortID(tp.id)
		}
		state := "collecting submissions"
		if tp.collected {
			state = fmt.Sprintf("votes in on %d submissions", tp.eligible)
		}
		lines = append(lines, fmt.Sprintf("• %s  %d accepted · %d rejected · %s", title, tp.accepted, tp.rejected, state))
	}
	if a.location != "" {
		lines = append(lines, "", "Results: "+a.location)
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderPhaseLine() string {
	doneStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	activeStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	pendingStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	parts := make([]string, 0, len(phaseOrder))
	for _, p := range phaseOrder {
		switch {
		case a.done[p]:
			parts = append(parts, doneStyle.Render("✓ "+p))
		case a.phase == p:
			parts = append(parts, activeStyle.Render("▶ "+p))
		default:
			parts = append(parts, pendingStyle.Render("· "+p))
		}
	}
	return strings.Join(parts, "  ")
}

func (a *App) sortedTopics() []*topicProgress {
	out := make([]*topicProgress, 0, len(a.topics))
	for _, tp := range a.topics {
		out = append(out, tp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].firstSeen.Equal(out[j].firstSeen) {
			return out[i].firstSeen.Before(out[j].firstSeen)
		}
		return out[i].id < out[j].id
	})
	return out
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, _ := a.logbook.Tail(logLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func decodePayload(evt eventbridge.Event, v any) bool {
	if len(evt.Payload) == 0 {
		return false
	}
	return json.Unmarshal(evt.Payload, v) == nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "session"
	}
	return id
}
