package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/accelbench/cputune/internal/optimizer"
	"github.com/accelbench/cputune/internal/report"
	"github.com/accelbench/cputune/internal/tuning"
)

var reportCmd = &cobra.Command{
	Use:   "report <exp-name>",
	Short: "Regenerate the report of a saved study",
	Long: `Load <output-dir>/<exp-name>_study.json and rewrite its importance tables and,
for studies tuned in both mode, the Pareto-front plot.

Examples:
  cputune report bert
  cputune report bert --output-dir runs/2024-06 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	RootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	expName := args[0]
	path := filepath.Join(outputDir, expName+"_study.json")
	study, err := optimizer.LoadFile(path)
	if err != nil {
		return err
	}
	m, err := tuning.ModeOf(study)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	jsonOut := getFormat() == report.FormatJSON
	if jsonOut {
		w = io.Discard
	}
	files, err := tuning.Report(w, study, m, expName, outputDir)
	if err != nil {
		return err
	}
	if jsonOut {
		best, err := study.BestTrials()
		if err != nil {
			return err
		}
		return report.JSON(cmd.OutOrStdout(), map[string]any{
			"experiment":  expName,
			"mode":        m,
			"trials":      len(study.Trials()),
			"completed":   len(study.CompletedTrials()),
			"best_trials": best,
			"files":       files,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nWrote %d file(s) to %s\n", len(files), outputDir)
	return nil
}
