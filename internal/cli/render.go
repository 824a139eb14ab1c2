package cli

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"

	"PostForge/internal/domain"
	"PostForge/internal/markup"
)

var (
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed)
	idColor    = color.New(color.FgCyan)
	stageColor = color.New(color.FgHiBlue)
)

func statusLabel(s domain.Status) string {
	switch s {
	case domain.StatusPublished:
		return okColor.Sprint(s)
	case domain.StatusQueued:
		return warnColor.Sprint(s)
	case domain.StatusFailed:
		return errColor.Sprint(s)
	default:
		return stageColor.Sprint(s)
	}
}

func topicLabel(s domain.TopicStatus) string {
	switch s {
	case domain.TopicUsed:
		return okColor.Sprint(s)
	case domain.TopicQueued:
		return warnColor.Sprint(s)
	default:
		return string(s)
	}
}

func preview(text string, limit int) string {
	plain := markup.PlainText(text)
	if utf8.RuneCountInString(plain) <= limit {
		return plain
	}
	runes := []rune(plain)
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printRecords(w io.Writer, records []domain.PostRecord, empty string) {
	if len(records) == 0 {
		fmt.Fprintln(w, empty)
		return
	}
	for i, rec := range records {
		when := stamp(rec.QueuedAt)
		if rec.PublishedAt != nil {
			when = stamp(*rec.PublishedAt)
		}
		fmt.Fprintf(w, "%2d. %s  %s  %s\n", i+1, idColor.Sprint(rec.ID), statusLabel(rec.Status), when)
		fmt.Fprintf(w, "    %s\n", preview(rec.FinalText, 100))
	}
}

func printRecord(w io.Writer, rec domain.PostRecord, collection domain.Collection) {
	fmt.Fprintf(w, "%s  %s (%s)\n", idColor.Sprint(rec.ID), statusLabel(rec.Status), collection)
	fmt.Fprintf(w, "Requester: %s\n", rec.RequesterID)
	fmt.Fprintf(w, "Brief:     %s / %s / %s\n", rec.Brief.TopicAngle, rec.Brief.Audience, rec.Brief.KeyTakeaway)
	fmt.Fprintf(w, "Queued:    %s\n", stamp(rec.QueuedAt))
	if rec.PublishedAt != nil {
		fmt.Fprintf(w, "Published: %s\n", stamp(*rec.PublishedAt))
	}
	if len(rec.Research.Sources) > 0 {
		fmt.Fprintln(w, "Sources:")
		for _, s := range rec.Research.Sources {
			fmt.Fprintf(w, "  - %s\n", s.URL)
		}
	}
	for _, f := range rec.Critiques {
		verdict := okColor.Sprint(f.Verdict)
		if f.Verdict == domain.VerdictFail {
			verdict = errColor.Sprint(f.Verdict)
		}
		fmt.Fprintf(w, "Critic %s: %s (%d issues)\n", f.Critic, verdict, len(f.Issues))
	}
	fmt.Fprintf(w, "\n%s\n", rec.FinalText)
}

func printPlan(w io.Writer, plan domain.Plan) {
	fmt.Fprintf(w, "Plan %s (created %s)\n", idColor.Sprint(plan.ID), stamp(plan.CreatedAt))
	for _, day := range plan.Days {
		fmt.Fprintf(w, "  [%d] %-4s %-8s %s\n", day.ID, day.Day, topicLabel(day.Status), day.TypeLabel)
		fmt.Fprintf(w, "      %s\n", day.Theme)
		if day.KeyTakeaway != "" {
			fmt.Fprintf(w, "      takeaway: %s\n", day.KeyTakeaway)
		}
	}
}

func progressPrinter(w io.Writer) func(domain.Stage, domain.Status) {
	return func(stage domain.Stage, status domain.Status) {
		fmt.Fprintf(w, "%s %s\n", stageColor.Sprint("→"), status)
	}
}
