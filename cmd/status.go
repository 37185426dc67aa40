package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/casebridge/casebridge/internal/migration"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of an interrupted migration run",
	Long: `Show the state recorded in a run snapshot: progress, per-artifact-type
counts and where a resumed run would pick up.`,
	Example: `  casebridge status
  casebridge status --snapshot ./my-run.json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&snapshotPath, "snapshot", ".casebridge-run.json", "Run snapshot path")
}

func runStatus(cmd *cobra.Command, args []string) error {
	snapMgr := migration.NewSnapshotManager(snapshotPath)
	if !snapMgr.Exists() {
		fmt.Printf("No snapshot at %s; nothing to resume\n", snapshotPath)
		return nil
	}

	snap, err := snapMgr.Load()
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("📋 Run Snapshot"))
	fmt.Printf("Run: %s\n", snap.RunID)
	fmt.Printf("Saved: %s\n", snap.SavedAt.Format(time.RFC3339))
	fmt.Printf("State: %s\n", snap.Status.State)
	fmt.Printf("Progress: %.1f%% (%d/%d, %d failed)\n",
		snap.Status.Progress*100, snap.Status.ProcessedItems, snap.Status.TotalItems, snap.Status.FailedItems)

	if len(snap.Status.Statistics.Entities) > 0 {
		fmt.Println("\nBy artifact type:")
		for typ, stats := range snap.Status.Statistics.Entities {
			fmt.Printf("  %-16s migrated %d/%d, %d failed, %d pending\n",
				typ, stats.Migrated, stats.Total, stats.Failed, stats.Pending)
		}
	}

	if len(snap.NextBatchIndex) > 0 {
		fmt.Println("\nResume points (batch index):")
		for typ, idx := range snap.NextBatchIndex {
			fmt.Printf("  %-16s batch %d\n", typ, idx)
		}
	}

	fmt.Println("\nResume with: casebridge migrate --run-config <config> --resume")
	return nil
}
