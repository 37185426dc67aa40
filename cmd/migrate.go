package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/casebridge/casebridge/internal/audit"
	"github.com/casebridge/casebridge/internal/mapping"
	"github.com/casebridge/casebridge/internal/migration"
	"github.com/casebridge/casebridge/internal/provider"
)

var (
	runConfigPath string
	reportPath    string
	reportFormat  string
	snapshotPath  string
	auditDBPath   string
	resumeRun     bool
	dryRun        bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run a migration between two test management platforms",
	Long: `Run a migration between a source and a target test management platform.

Field mappings are validated against both live schemas before any artifact
is read or written. Artifacts are processed in batches with bounded
concurrency; transient provider failures are retried with exponential
backoff. Ctrl-C requests a cooperative cancel that lets in-flight
operations finish.`,
	Example: `  # Run a migration
  casebridge migrate --run-config ./run.yaml

  # Validate mappings and count artifacts without writing anything
  casebridge migrate --run-config ./run.yaml --dry-run

  # Resume an interrupted run from its snapshot
  casebridge migrate --run-config ./run.yaml --resume`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringVarP(&runConfigPath, "run-config", "r", "", "Migration run configuration YAML")
	migrateCmd.Flags().StringVarP(&reportPath, "report", "o", "", "Write the end-of-run report to this path")
	migrateCmd.Flags().StringVar(&reportFormat, "report-format", "yaml", "Report format: json, yaml, markdown")
	migrateCmd.Flags().StringVar(&snapshotPath, "snapshot", ".casebridge-run.json", "Run snapshot path for resume")
	migrateCmd.Flags().StringVar(&auditDBPath, "audit-db", "", "SQLite audit trail database (disabled when empty)")
	migrateCmd.Flags().BoolVar(&resumeRun, "resume", false, "Resume from the snapshot file")
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate mappings and count artifacts, write nothing")

	_ = migrateCmd.MarkFlagRequired("run-config")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := migration.LoadConfig(runConfigPath)
	if err != nil {
		return err
	}

	registry := provider.NewRegistry()
	validator := migration.NewValidator(registry, false)
	if result := validator.ValidateConfig(cfg); !result.Valid {
		printValidationResult(result)
		return fmt.Errorf("migration config validation failed with %d errors", len(result.Errors))
	}

	set, err := mapping.LoadSet(cfg.MappingPath)
	if err != nil {
		return err
	}

	sourceConn, err := provider.LoadConnection(cfg.SourceConnection)
	if err != nil {
		return err
	}
	targetConn, err := provider.LoadConnection(cfg.TargetConnection)
	if err != nil {
		return err
	}

	source, err := provider.Connect(ctx, sourceConn)
	if err != nil {
		return err
	}
	target, err := provider.Connect(ctx, targetConn)
	if err != nil {
		return err
	}

	// Mapping resolution happens here; a validation failure aborts before
	// any artifact is listed, fetched or written.
	engine, err := migration.NewEngine(ctx, source, target, set, cfg)
	if err != nil {
		return err
	}

	if dryRun {
		return printDryRun(cmd, engine, cfg)
	}

	var opts []migration.Option

	sink, closeSink, err := openAuditSink()
	if err != nil {
		return err
	}
	defer closeSink()
	memSink := &audit.MemorySink{}
	opts = append(opts, migration.WithAuditSink(audit.Tee(sink, memSink)))

	snapMgr := migration.NewSnapshotManager(snapshotPath)
	if resumeRun {
		snap, err := snapMgr.Load()
		if err != nil {
			return fmt.Errorf("cannot resume: %w", err)
		}
		log.Info("Resuming run", "run", snap.RunID, "savedAt", snap.SavedAt)
		opts = append(opts, migration.WithResume(snap))
	}

	if cfg.ErrorHandling == migration.ErrorHandlingPrompt {
		opts = append(opts, migration.WithDecisionFunc(promptOnFailure))
	}

	orch := migration.NewOrchestrator(cfg, engine, opts...)

	if err := orch.Start(ctx); err != nil {
		return err
	}

	installCancelHandler(orch)
	trackProgress(orch)

	status := orch.Wait()

	reporter := migration.NewReporter(reportFormat)
	report := reporter.GenerateReport(status, source.ID(), target.ID(), memSink.Entries())
	reporter.PrintSummary(report)

	if reportPath != "" {
		if err := reporter.SaveReport(report, reportPath); err != nil {
			return err
		}
		log.Info("Report written", "path", reportPath)
	}

	switch status.State {
	case migration.StateCompleted:
		if err := snapMgr.Delete(); err != nil {
			log.Warn("Failed to remove snapshot", "error", err)
		}
		return nil
	default:
		if err := snapMgr.Save(orch.Snapshot()); err != nil {
			log.Warn("Failed to save snapshot", "error", err)
		} else {
			log.Info("Snapshot saved, resume with --resume", "path", snapshotPath)
		}
		return fmt.Errorf("migration finished in state %s (%d failed)", status.State, status.FailedItems)
	}
}

// openAuditSink opens the SQLite audit store when configured, or a no-op sink.
func openAuditSink() (audit.Sink, func(), error) {
	if auditDBPath == "" {
		return audit.NopSink{}, func() {}, nil
	}
	store, err := audit.NewStore(auditDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

// installCancelHandler wires SIGINT/SIGTERM to a cooperative cancel. A second
// signal exits immediately.
func installCancelHandler(orch *migration.Orchestrator) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn("Cancel requested, letting in-flight operations finish")
		_ = orch.Cancel()
		<-sigCh
		log.Error("Forced exit")
		os.Exit(1)
	}()
}

// trackProgress renders a progress bar from status updates until the run
// reaches a terminal state.
func trackProgress(orch *migration.Orchestrator) {
	updates := orch.Subscribe()

	var bar *progressbar.ProgressBar
	for {
		select {
		case status, ok := <-updates:
			if !ok {
				return
			}
			if bar == nil && status.TotalItems > 0 {
				bar = progressbar.NewOptions(status.TotalItems,
					progressbar.OptionSetDescription("migrating"),
					progressbar.OptionShowCount(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionClearOnFinish(),
				)
			}
			if bar != nil {
				_ = bar.Set(status.ProcessedItems)
			}
			if status.State.Terminal() {
				if bar != nil {
					_ = bar.Finish()
				}
				return
			}
		case <-orch.Done():
			if bar != nil {
				_ = bar.Finish()
			}
			return
		}
	}
}

// promptOnFailure asks on stdin whether to continue after a fatal artifact
// failure. The orchestrator enforces the prompt timeout.
func promptOnFailure(failure error) migration.Decision {
	fmt.Printf("\n❌ Artifact failed: %v\n", failure)
	fmt.Print("Continue with remaining artifacts? [y/N]: ")

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return migration.DecisionAbort
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return migration.DecisionContinue
	default:
		return migration.DecisionAbort
	}
}

func printDryRun(cmd *cobra.Command, engine *migration.Engine, cfg migration.Config) error {
	ctx := cmd.Context()

	fmt.Println(titleStyle.Render("🔍 Dry Run"))
	fmt.Printf("Source: %s | Target: %s\n", engine.Source().Name(), engine.Target().Name())
	fmt.Printf("Scope: %s | Batch size: %d | Workers: %d\n\n", cfg.Scope, cfg.BatchSize, cfg.ConcurrentOps)

	fmt.Println("Mappings resolved successfully. Artifact counts:")
	for _, typ := range engine.Types() {
		count, err := engine.Source().Count(ctx, typ)
		if err != nil {
			fmt.Printf("  %-16s count unavailable (%v)\n", typ, err)
			continue
		}
		batches := migration.NumBatches(count, cfg.BatchSize)
		fmt.Printf("  %-16s %d artifacts in %d batches\n", typ, count, batches)
	}

	fmt.Println("\nNo artifacts were read or written.")
	return nil
}

func printValidationResult(result *migration.ValidationResult) {
	for _, issue := range result.Errors {
		if issue.Path != "" {
			fmt.Printf("❌ [%s] %s\n", issue.Path, issue.Message)
		} else {
			fmt.Printf("❌ %s\n", issue.Message)
		}
	}
	for _, issue := range result.Warnings {
		if issue.Path != "" {
			fmt.Printf("⚠️  [%s] %s\n", issue.Path, issue.Message)
		} else {
			fmt.Printf("⚠️  %s\n", issue.Message)
		}
	}
}
