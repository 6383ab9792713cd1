package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const snippetWidth = 48

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// ParticipantsTable lists the roster.
func (r *Report) ParticipantsTable() string {
	t := newTable("Name", "Type", "Model")
	for _, p := range r.Participants {
		model := p.Model
		if model == "" {
			model = "-"
		}
		t.Row(p.Name, p.Type, model)
	}
	return t.String()
}

// TopicTable lists one topic's aggregate with authors and content.
func (r *Report) TopicTable(topic Topic) string {
	t := newTable("#", "Author", "Submission", "Result")
	for _, res := range r.TopicResults(topic.ID) {
		author, content := "-", "-"
		if sub, ok := r.Submission(res.SubmissionID); ok {
			author = r.ParticipantName(sub.ParticipantID)
			content = Snippet(sub.Content, snippetWidth)
		}
		t.Row(strconv.Itoa(res.Rank), author, content, FormatValue(res.Value))
	}
	return t.String()
}

// VotesTable lists the ballots cast on one topic.
func (r *Report) VotesTable(topic Topic) string {
	t := newTable("Voter", "Submission", "Vote")
	for _, v := range r.TopicVotes(topic.ID) {
		target := "all"
		if v.SubmissionID != "" {
			target = "-"
			if sub, ok := r.Submission(v.SubmissionID); ok {
				target = r.ParticipantName(sub.ParticipantID) + ": " + Snippet(sub.Content, 24)
			}
		}
		t.Row(r.ParticipantName(v.ParticipantID), target, Snippet(v.Value, snippetWidth))
	}
	return t.String()
}

// Render writes every table. With votes false the per-ballot tables are
// omitted.
func (r *Report) Render(w io.Writer, votes bool) error {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Session %s", r.Session.Name)))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(r.Session.ID))
	if r.Session.Description != "" {
		b.WriteString("\n" + r.Session.Description)
	}
	b.WriteString("\n\n")
	b.WriteString(r.ParticipantsTable())
	b.WriteString("\n")
	for _, topic := range r.Topics {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render(topic.Title))
		b.WriteString(mutedStyle.Render(" · " + topic.Method))
		b.WriteString("\n")
		if len(r.TopicResults(topic.ID)) == 0 {
			b.WriteString(mutedStyle.Render("no submissions"))
			b.WriteString("\n")
			continue
		}
		b.WriteString(r.TopicTable(topic))
		b.WriteString("\n")
		if votes {
			b.WriteString(r.VotesTable(topic))
			b.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
