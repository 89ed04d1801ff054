// Package report renders a human-readable summary of a metric run.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"goregress/domain/regression"
	"goregress/domain/run"
	apperrors "goregress/internal/errors"
)

const (
	MarkdownFile = "report.md"
	HTMLFile     = "report.html"

	// maxFailures caps the failure listing per stage
	maxFailures = 50
)

var stageOrder = []regression.StageName{regression.StageUnivariate, regression.StageMultivariate}

// Markdown renders the run manifest as a markdown document
func Markdown(m *run.Manifest) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Regression run %s\n\n", m.Metric)
	fmt.Fprintf(&b, "| field | value |\n|---|---|\n")
	fmt.Fprintf(&b, "| run | `%s` |\n", m.RunID)
	fmt.Fprintf(&b, "| model | %s |\n", m.Model)
	fmt.Fprintf(&b, "| input | `%s` |\n", m.InputPath)
	fmt.Fprintf(&b, "| status | %s |\n", m.Status)
	fmt.Fprintf(&b, "| started | %s |\n", m.CreatedAt.Format(time.RFC3339))
	if !m.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "| duration | %s |\n", m.FinishedAt.Sub(m.CreatedAt).Round(time.Millisecond))
	}
	if m.Error != "" {
		fmt.Fprintf(&b, "\n**Error:** %s\n", m.Error)
	}

	for _, name := range stageOrder {
		rep, ok := m.Stages[name]
		if !ok {
			continue
		}
		writeStage(&b, rep)
	}
	return []byte(b.String())
}

func writeStage(b *strings.Builder, rep *regression.StageReport) {
	fmt.Fprintf(b, "\n## %s\n\n", rep.Stage)
	fmt.Fprintf(b, "- elements: %d\n", rep.Elements)
	fmt.Fprintf(b, "- predictors: %d\n", rep.Predictors)
	fmt.Fprintf(b, "- fits: %d planned, %d succeeded, %d failed\n", rep.Planned, rep.Succeeded, rep.Failed)
	fmt.Fprintf(b, "- corrected: %t\n", rep.Corrected)
	if rep.ForcedCells > 0 {
		fmt.Fprintf(b, "- forced cells reverted: %d\n", rep.ForcedCells)
	}
	fmt.Fprintf(b, "- duration: %s\n", rep.Duration.Round(time.Millisecond))

	if len(rep.SkipsByReason) > 0 {
		reasons := make([]string, 0, len(rep.SkipsByReason))
		for r := range rep.SkipsByReason {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		b.WriteString("\n| skip reason | count |\n|---|---|\n")
		for _, r := range reasons {
			fmt.Fprintf(b, "| %s | %d |\n", r, rep.SkipsByReason[r])
		}
	}

	if len(rep.Failures) > 0 {
		b.WriteString("\n| element | formula | reason | error |\n|---|---|---|---|\n")
		for i, f := range rep.Failures {
			if i == maxFailures {
				fmt.Fprintf(b, "\n_%d more failures omitted_\n", len(rep.Failures)-maxFailures)
				break
			}
			fmt.Fprintf(b, "| %s | `%s` | %s | %s |\n", f.Element, f.Formula, f.Reason, escapeCell(f.Error))
		}
	}
}

func escapeCell(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}

// HTML converts a markdown report into a standalone page
func HTML(md []byte, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	r := html.NewRenderer(html.RendererOptions{
		Title: title,
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.ToHTML(md, p, r)
}

// Write stores report.md and report.html in dir
func Write(dir string, m *run.Manifest) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.IOError(dir, err)
	}
	md := Markdown(m)
	if err := os.WriteFile(filepath.Join(dir, MarkdownFile), md, 0644); err != nil {
		return apperrors.IOError(filepath.Join(dir, MarkdownFile), err)
	}
	page := HTML(md, "Regression run "+m.Metric)
	if err := os.WriteFile(filepath.Join(dir, HTMLFile), page, 0644); err != nil {
		return apperrors.IOError(filepath.Join(dir, HTMLFile), err)
	}
	return nil
}
