package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/accelbench/cputune/internal/candidates"
	"github.com/accelbench/cputune/internal/mode"
	"github.com/accelbench/cputune/internal/report"
	"github.com/accelbench/cputune/internal/space"
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List the instance and core counts a tuning run would sample",
	Long: `Print the candidate instance counts for a batch size and mode, and for each
instance count the candidate cores per instance.

Examples:
  cputune candidates --batch-size 16 --mode throughput
  cputune candidates --batch-size 8,16,32 --instance-type c7i.16xlarge`,
	Args: cobra.NoArgs,
	RunE: runCandidates,
}

var (
	candMode         string
	candBatchSize    string
	candInstanceType string
	candCPUInfo      string
)

func init() {
	candidatesCmd.Flags().StringVar(&candMode, "mode", "latency", "Tuning mode: latency, throughput or both")
	candidatesCmd.Flags().StringVar(&candBatchSize, "batch-size", "", "Batch size, or a comma list of candidates (required)")
	candidatesCmd.Flags().StringVar(&candInstanceType, "instance-type", "", "Plan for an EC2 instance type instead of the local CPUs")
	candidatesCmd.Flags().StringVar(&candCPUInfo, "cpuinfo", "", "cpuinfo file to read instead of /proc/cpuinfo")
	_ = candidatesCmd.MarkFlagRequired("batch-size")
	RootCmd.AddCommand(candidatesCmd)
}

type candidateRow struct {
	Instances int   `json:"instances"`
	Cores     []int `json:"cores_per_instance"`
}

func runCandidates(cmd *cobra.Command, args []string) error {
	m, err := mode.Parse(candMode)
	if err != nil {
		return err
	}
	batch := space.ParseValue(candBatchSize)
	p, err := cpuProvider(cmd.Context(), candInstanceType, candCPUInfo)
	if err != nil {
		return err
	}
	info, err := p.Info(cmd.Context())
	if err != nil {
		return err
	}

	counts, err := candidates.Instances(batch, m, info)
	if err != nil {
		return err
	}
	out := make([]candidateRow, 0, len(counts))
	for _, n := range counts {
		cores, err := candidates.Cores(space.Fixed(1), m, info, n)
		if err != nil {
			return fmt.Errorf("cores for %d instances: %w", n, err)
		}
		out = append(out, candidateRow{Instances: n, Cores: cores})
	}

	if getFormat() == report.FormatJSON {
		return report.JSON(cmd.OutOrStdout(), out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d physical cores, batch size %s, mode %s\n\n", info.PhysicalCores, batch, m)
	rows := make([][]string, len(out))
	for i, r := range out {
		cores := make([]string, len(r.Cores))
		for j, c := range r.Cores {
			cores[j] = strconv.Itoa(c)
		}
		rows[i] = []string{strconv.Itoa(r.Instances), strings.Join(cores, ", ")}
	}
	report.Table(cmd.OutOrStdout(), []string{"Instances", "Cores per instance"}, rows)
	return nil
}
