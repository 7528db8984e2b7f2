package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/poolmeter/internal/app"
	"github.com/anstrom/poolmeter/internal/logging"
	"github.com/anstrom/poolmeter/internal/metadata"
)

var poolsOutput string

// poolsCmd represents the pools command.
var poolsCmd = &cobra.Command{
	Use:   "pools",
	Short: "Show the current state of every configured pool",
	Long: `Open every configured data source once and print its active, idle,
max and min connection counts. Values a pool kind cannot report are shown
as "-".`,
	Example: `  poolmeter pools
  poolmeter pools --output json`,
	RunE: runPools,
}

func init() {
	rootCmd.AddCommand(poolsCmd)
	poolsCmd.Flags().StringVarP(&poolsOutput, "output", "o", "table", "Output format: table, json")
}

func runPools(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	application, err := app.New(cmd.Context(), cfg, logging.Default())
	if err != nil {
		return fmt.Errorf("failed to open data sources: %w", err)
	}
	defer func() {
		if closeErr := application.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close data sources: %v\n", closeErr)
		}
	}()

	snaps := application.Snapshots()
	switch poolsOutput {
	case "json":
		return displayPoolsJSON(cmd.OutOrStdout(), snaps)
	case "table", "":
		displayPoolsTable(cmd.OutOrStdout(), snaps)
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", poolsOutput)
	}
}

// displayPoolsTable displays pool snapshots in a table format
func displayPoolsTable(w io.Writer, snaps []metadata.Snapshot) {
	table := tablewriter.NewWriter(w)
	table.Header("Pool", "Supported", "Active", "Idle", "Max", "Min")

	for i := range snaps {
		snap := &snaps[i]
		supported := "no"
		if snap.Supported {
			supported = "yes"
		}
		_ = table.Append([]string{
			snap.Name,
			supported,
			formatCount(snap.Active),
			formatCount(snap.Idle),
			formatCount(snap.Max),
			formatCount(snap.Min),
		})
	}

	_ = table.Render()
}

// displayPoolsJSON displays pool snapshots in JSON format
func displayPoolsJSON(w io.Writer, snaps []metadata.Snapshot) error {
	output := struct {
		Pools []metadata.Snapshot `json:"pools"`
		Count int                 `json:"count"`
	}{
		Pools: snaps,
		Count: len(snaps),
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func formatCount(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}
