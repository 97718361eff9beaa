package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/service"
)

const titleWidth = 48

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

func renderDetection(w io.Writer, res *service.DetectionResult) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Groups", "Created", "Updated", "Linked"})
	tw.AppendRow(table.Row{res.ProcessedGroups, res.Created, res.Updated, res.Linked})
	tw.Render()
}

func renderProblems(w io.Writer, problems []domain.Problem) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"ID", "Title", "Category", "Status", "Occurrences", "Active", "Last seen"})
	for _, p := range problems {
		tw.AppendRow(table.Row{
			p.ID,
			text.Trim(p.Title, titleWidth),
			p.Category,
			p.Status,
			p.OccurrencesCount,
			p.ActiveCount,
			formatTime(p.LastSeenAt),
		})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d problems", len(problems))})
	tw.Render()
}

func renderProblemDetail(w io.Writer, p *domain.Problem, tickets []domain.Ticket, recs []domain.Recommendation) {
	head := newTable(w)
	head.SetTitle("%s  %s", p.ID, p.Title)
	head.AppendRows([]table.Row{
		{"Status", p.Status},
		{"Category", p.Category},
		{"Similarity key", p.SimilarityKey},
		{"Occurrences", fmt.Sprintf("%d (%d active)", p.OccurrencesCount, p.ActiveCount)},
		{"Last seen", formatTime(p.LastSeenAt)},
		{"Root cause", p.RootCause},
		{"Workaround", p.Workaround},
		{"Permanent fix", p.PermanentFix},
		{"Suggested assignee", service.DeriveProblemAssignee(tickets)},
	})
	head.Render()

	tt := newTable(w)
	tt.SetTitle("Linked tickets")
	tt.AppendHeader(table.Row{"ID", "Title", "Priority", "Status", "Assignee"})
	for _, t := range tickets {
		tt.AppendRow(table.Row{t.ID, text.Trim(t.Title, titleWidth), t.Priority, t.Status, t.Assignee})
	}
	tt.Render()

	if len(recs) == 0 {
		return
	}
	rt := newTable(w)
	rt.SetTitle("Recommendations")
	rt.AppendHeader(table.Row{"Type", "Title", "Impact", "Confidence"})
	for _, r := range recs {
		rt.AppendRow(table.Row{r.Type, text.Trim(r.Title, titleWidth), r.Impact, r.Confidence})
	}
	rt.Render()
}

func renderAnalytics(w io.Writer, a *service.ProblemAnalytics) {
	st := newTable(w)
	st.SetTitle("Problems by status")
	st.AppendHeader(table.Row{"Status", "Count"})
	for _, s := range domain.ProblemStatuses {
		st.AppendRow(table.Row{s, a.ByStatus[s]})
	}
	st.AppendFooter(table.Row{"Total", a.Total})
	st.Render()

	if len(a.Top) == 0 {
		return
	}
	top := newTable(w)
	top.SetTitle("Most active")
	top.AppendHeader(table.Row{"ID", "Title", "Active", "Occurrences", "Recommendation"})
	for _, h := range a.Top {
		top.AppendRow(table.Row{h.ID, text.Trim(h.Title, titleWidth), h.Active, h.Occurrences, text.Trim(h.Recommendation, 60)})
	}
	top.Render()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
