package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/casebridge/casebridge/internal/audit"
	"github.com/casebridge/casebridge/internal/provider"
)

// Reporter generates migration run reports
type Reporter struct {
	outputFormat string // json, yaml, markdown
}

// Report is the serializable end-of-run report
type Report struct {
	RunID       string         `json:"runId" yaml:"runId"`
	GeneratedAt time.Time      `json:"generatedAt" yaml:"generatedAt"`
	Summary     Summary        `json:"summary" yaml:"summary"`
	Entities    []EntityDetail `json:"entities" yaml:"entities"`
	Issues      []Issue        `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// Summary aggregates the run outcome
type Summary struct {
	State          State         `json:"state" yaml:"state"`
	TotalItems     int           `json:"totalItems" yaml:"totalItems"`
	Migrated       int           `json:"migrated" yaml:"migrated"`
	Failed         int           `json:"failed" yaml:"failed"`
	Progress       float64       `json:"progress" yaml:"progress"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
	SuccessRate    float64       `json:"successRate" yaml:"successRate"`
	SourceProvider string        `json:"sourceProvider" yaml:"sourceProvider"`
	TargetProvider string        `json:"targetProvider" yaml:"targetProvider"`
}

// EntityDetail is the per-artifact-type breakdown
type EntityDetail struct {
	Type     string `json:"type" yaml:"type"`
	Total    int    `json:"total" yaml:"total"`
	Migrated int    `json:"migrated" yaml:"migrated"`
	Failed   int    `json:"failed" yaml:"failed"`
	Pending  int    `json:"pending" yaml:"pending"`
}

// Issue is one reportable problem surfaced during the run
type Issue struct {
	Severity  string    `json:"severity" yaml:"severity"`
	Component string    `json:"component" yaml:"component"`
	Message   string    `json:"message" yaml:"message"`
	Details   string    `json:"details,omitempty" yaml:"details,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// NewReporter creates a reporter for the given output format
func NewReporter(format string) *Reporter {
	return &Reporter{
		outputFormat: format,
	}
}

// GenerateReport builds a report from the final run status. Audit entries at
// warn level or above become report issues; pass nil to skip them.
func (r *Reporter) GenerateReport(status Status, sourceID, targetID string, entries []audit.Entry) *Report {
	report := &Report{
		RunID:       status.ID,
		GeneratedAt: time.Now(),
		Summary: Summary{
			State:          status.State,
			TotalItems:     status.TotalItems,
			Migrated:       status.ProcessedItems - status.FailedItems,
			Failed:         status.FailedItems,
			Progress:       status.Progress,
			SourceProvider: sourceID,
			TargetProvider: targetID,
		},
		Entities: []EntityDetail{},
		Issues:   []Issue{},
	}

	if status.EndTime != nil {
		report.Summary.Duration = status.EndTime.Sub(status.StartTime)
	}
	if status.TotalItems > 0 {
		report.Summary.SuccessRate = float64(report.Summary.Migrated) / float64(status.TotalItems) * 100
	}

	for typ, stats := range status.Statistics.Entities {
		report.Entities = append(report.Entities, EntityDetail{
			Type:     string(typ),
			Total:    stats.Total,
			Migrated: stats.Migrated,
			Failed:   stats.Failed,
			Pending:  stats.Pending,
		})
	}
	sort.Slice(report.Entities, func(i, j int) bool {
		return entityOrder(report.Entities[i].Type) < entityOrder(report.Entities[j].Type)
	})

	for _, entry := range entries {
		if entry.Level == audit.LevelInfo {
			continue
		}
		report.Issues = append(report.Issues, Issue{
			Severity:  string(entry.Level),
			Component: entry.Component,
			Message:   entry.Message,
			Details:   entry.Details,
			Timestamp: entry.Timestamp,
		})
	}

	return report
}

// SaveReport writes the report to a file
func (r *Reporter) SaveReport(report *Report, outputPath string) error {
	var data []byte
	var err error

	switch r.outputFormat {
	case "json":
		data, err = json.MarshalIndent(report, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(report)
	case "markdown":
		data = []byte(r.formatMarkdown(report))
	default:
		return fmt.Errorf("unsupported output format: %s", r.outputFormat)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	return nil
}

// PrintSummary prints a colorful summary to the console
func (r *Reporter) PrintSummary(report *Report) {
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7D56F4"))

	successStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#50FA7B"))

	errorStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF5F87"))

	fmt.Println()
	fmt.Println(headerStyle.Render("📊 Migration Report"))
	fmt.Println(strings.Repeat("=", 40))

	fmt.Printf("Run: %s\n", report.RunID)
	fmt.Printf("Route: %s → %s\n", report.Summary.SourceProvider, report.Summary.TargetProvider)
	fmt.Printf("State: %s\n", report.Summary.State)
	if report.Summary.Duration > 0 {
		fmt.Printf("Duration: %s\n", report.Summary.Duration.Round(time.Millisecond))
	}
	fmt.Println()

	fmt.Printf("Total Items: %d\n", report.Summary.TotalItems)
	fmt.Printf("%s Migrated: %d\n", successStyle.Render("✅"), report.Summary.Migrated)
	if report.Summary.Failed > 0 {
		fmt.Printf("%s Failed: %d\n", errorStyle.Render("❌"), report.Summary.Failed)
	}
	fmt.Printf("Success Rate: %.1f%%\n", report.Summary.SuccessRate)

	if len(report.Entities) > 0 {
		fmt.Println()
		fmt.Println("By Artifact Type:")
		for _, detail := range report.Entities {
			fmt.Printf("  %-16s migrated %d/%d", detail.Type, detail.Migrated, detail.Total)
			if detail.Failed > 0 {
				fmt.Printf(", %s", errorStyle.Render(fmt.Sprintf("%d failed", detail.Failed)))
			}
			fmt.Println()
		}
	}

	if len(report.Issues) > 0 {
		fmt.Println()
		fmt.Printf("Issues: %d (see saved report for details)\n", len(report.Issues))
	}
}

func (r *Reporter) formatMarkdown(report *Report) string {
	var md strings.Builder

	md.WriteString("# Migration Report\n\n")
	md.WriteString(fmt.Sprintf("Run: `%s`\n\n", report.RunID))
	md.WriteString(fmt.Sprintf("Generated: %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))

	md.WriteString("## Summary\n\n")
	md.WriteString(fmt.Sprintf("- **Route**: %s → %s\n", report.Summary.SourceProvider, report.Summary.TargetProvider))
	md.WriteString(fmt.Sprintf("- **State**: %s\n", report.Summary.State))
	md.WriteString(fmt.Sprintf("- **Total Items**: %d\n", report.Summary.TotalItems))
	md.WriteString(fmt.Sprintf("- **Migrated**: %d\n", report.Summary.Migrated))
	md.WriteString(fmt.Sprintf("- **Failed**: %d\n", report.Summary.Failed))
	md.WriteString(fmt.Sprintf("- **Duration**: %s\n", report.Summary.Duration))
	md.WriteString(fmt.Sprintf("- **Success Rate**: %.1f%%\n\n", report.Summary.SuccessRate))

	if len(report.Entities) > 0 {
		md.WriteString("## Artifact Types\n\n")
		md.WriteString("| Type | Total | Migrated | Failed | Pending |\n")
		md.WriteString("|------|-------|----------|--------|--------|\n")

		for _, detail := range report.Entities {
			md.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d |\n",
				detail.Type, detail.Total, detail.Migrated, detail.Failed, detail.Pending))
		}
		md.WriteString("\n")
	}

	if len(report.Issues) > 0 {
		md.WriteString("## Issues\n\n")

		bySeverity := make(map[string][]Issue)
		for _, issue := range report.Issues {
			bySeverity[issue.Severity] = append(bySeverity[issue.Severity], issue)
		}

		for _, severity := range []string{"error", "warn"} {
			issues, ok := bySeverity[severity]
			if !ok || len(issues) == 0 {
				continue
			}
			md.WriteString(fmt.Sprintf("### %s\n\n", strings.ToUpper(severity[:1])+severity[1:]))
			for _, issue := range issues {
				md.WriteString(fmt.Sprintf("- [%s] %s", issue.Component, issue.Message))
				if issue.Details != "" {
					md.WriteString(fmt.Sprintf(" (%s)", issue.Details))
				}
				md.WriteString("\n")
			}
			md.WriteString("\n")
		}
	}

	return md.String()
}

func entityOrder(typ string) int {
	for i, t := range provider.ArtifactTypes {
		if string(t) == typ {
			return i
		}
	}
	return len(provider.ArtifactTypes)
}
