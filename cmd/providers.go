package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/casebridge/casebridge/internal/provider"
)

var (
	statusFilter string
	showDetails  bool
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List supported test management platforms",
	Long: `List the test management platforms casebridge can migrate between,
with their support status and artifact type coverage.`,
	Example: `  # List all providers
  casebridge providers

  # Only fully supported providers
  casebridge providers --status supported

  # Show artifact coverage
  casebridge providers --details`,
	RunE: runListProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)

	providersCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by support status (supported, partial, manual, unsupported)")
	providersCmd.Flags().BoolVar(&showDetails, "details", false, "Show artifact type coverage")
}

func runListProviders(cmd *cobra.Command, args []string) error {
	registry := provider.NewRegistry()

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7D56F4"))

	fmt.Println(headerStyle.Render("🔗 Supported Platforms"))
	fmt.Println()

	var infos []provider.Info
	if statusFilter != "" {
		status := provider.SupportStatus(statusFilter)
		switch status {
		case provider.StatusSupported, provider.StatusPartial, provider.StatusManual, provider.StatusUnsupported:
		default:
			return fmt.Errorf("unknown status %q (expected supported, partial, manual or unsupported)", statusFilter)
		}
		infos = registry.ByStatus(status)
	} else {
		infos = registry.All()
	}

	if len(infos) == 0 {
		fmt.Println("No providers match the filter")
		return nil
	}

	for _, info := range infos {
		statusIcon := "✅"
		switch info.Status {
		case provider.StatusPartial:
			statusIcon = "⚠️"
		case provider.StatusManual:
			statusIcon = "🔧"
		case provider.StatusUnsupported:
			statusIcon = "❌"
		}

		fmt.Printf("  %s %s (%s)\n", statusIcon, info.Name, info.ID)

		if showDetails {
			fmt.Printf("     Artifacts: %s\n", coverageLine(info.Capabilities))
			if info.Notes != "" {
				fmt.Printf("     Notes: %s\n", info.Notes)
			}
			fmt.Println()
		}
	}

	supported := len(registry.ByStatus(provider.StatusSupported))
	partial := len(registry.ByStatus(provider.StatusPartial))
	manual := len(registry.ByStatus(provider.StatusManual))

	fmt.Println()
	fmt.Printf("📊 %d platforms: ✅ %d supported | ⚠️ %d partial | 🔧 %d manual\n",
		len(registry.All()), supported, partial, manual)

	return nil
}

func coverageLine(c provider.Capabilities) string {
	var parts []string
	if c.TestCases {
		parts = append(parts, "test cases")
	}
	if c.TestCycles {
		parts = append(parts, "cycles")
	}
	if c.TestExecutions {
		parts = append(parts, "executions")
	}
	if c.Attachments {
		parts = append(parts, "attachments")
	}
	if c.CustomFields {
		parts = append(parts, "custom fields")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
