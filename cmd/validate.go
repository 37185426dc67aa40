package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/casebridge/casebridge/internal/mapping"
	"github.com/casebridge/casebridge/internal/migration"
	"github.com/casebridge/casebridge/internal/provider"
)

var (
	mappingPath      string
	sourceConnPath   string
	targetConnPath   string
	strictValidation bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a field mapping set",
	Long: `Validate a field mapping set before running a migration.

Without connections, the mapping file is checked structurally: known
artifact types, no duplicate targets, well-formed transformation specs.
With --source-connection and --target-connection, every mapping is also
resolved against the live provider schemas, the same check the migrate
command runs before touching any artifact.`,
	Example: `  # Structural check only
  casebridge validate --mapping ./mappings.yaml

  # Full resolution against live schemas
  casebridge validate --mapping ./mappings.yaml \
    --source-connection ./source.yaml --target-connection ./target.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&mappingPath, "mapping", "m", "", "Field mapping set YAML")
	validateCmd.Flags().StringVar(&sourceConnPath, "source-connection", "", "Source connection config for schema resolution")
	validateCmd.Flags().StringVar(&targetConnPath, "target-connection", "", "Target connection config for schema resolution")
	validateCmd.Flags().BoolVar(&strictValidation, "strict", false, "Enable extra warnings")

	_ = validateCmd.MarkFlagRequired("mapping")
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	validator := migration.NewValidator(provider.NewRegistry(), strictValidation)

	fmt.Println(titleStyle.Render("✅ Mapping Validation"))
	fmt.Println()

	result, err := validator.ValidateMappingFile(mappingPath)
	if err != nil {
		return err
	}
	printValidationResult(result)

	if sourceConnPath != "" || targetConnPath != "" {
		if sourceConnPath == "" || targetConnPath == "" {
			return fmt.Errorf("schema resolution needs both --source-connection and --target-connection")
		}

		set, err := mapping.LoadSet(mappingPath)
		if err != nil {
			return err
		}

		sourceConn, err := provider.LoadConnection(sourceConnPath)
		if err != nil {
			return err
		}
		targetConn, err := provider.LoadConnection(targetConnPath)
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

		schemaResult := validator.ValidateSet(ctx, set, source, target)
		printValidationResult(schemaResult)
		result.Errors = append(result.Errors, schemaResult.Errors...)
		result.Warnings = append(result.Warnings, schemaResult.Warnings...)
	}

	fmt.Println()
	if len(result.Errors) > 0 {
		return fmt.Errorf("validation failed: %d errors, %d warnings", len(result.Errors), len(result.Warnings))
	}
	if len(result.Warnings) > 0 {
		fmt.Printf("Validation passed with %d warnings\n", len(result.Warnings))
	} else {
		fmt.Println("Validation passed")
	}
	return nil
}
