package cmd

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/spf13/cobra"

	"github.com/accelbench/cputune/internal/cloud"
	"github.com/accelbench/cputune/internal/report"
	"github.com/accelbench/cputune/internal/topology"
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Show the CPU layout a tuning run would partition",
	Long: `Print the physical cores, threads and sockets detected on this host, or the
default vCPU layout of an EC2 instance type.

Examples:
  cputune topology
  cputune topology --instance-type c7i.8xlarge -o json`,
	Args: cobra.NoArgs,
	RunE: runTopology,
}

var (
	topoInstanceType string
	topoCPUInfo      string
)

func init() {
	topologyCmd.Flags().StringVar(&topoInstanceType, "instance-type", "", "Describe an EC2 instance type instead of the local CPUs")
	topologyCmd.Flags().StringVar(&topoCPUInfo, "cpuinfo", "", "cpuinfo file to read instead of /proc/cpuinfo")
	RootCmd.AddCommand(topologyCmd)
}

func runTopology(cmd *cobra.Command, args []string) error {
	p, err := cpuProvider(cmd.Context(), topoInstanceType, topoCPUInfo)
	if err != nil {
		return err
	}
	info, err := p.Info(cmd.Context())
	if err != nil {
		return err
	}
	if getFormat() == report.FormatJSON {
		return report.JSON(cmd.OutOrStdout(), info)
	}
	report.Table(cmd.OutOrStdout(), []string{"Field", "Value"}, [][]string{
		{"Physical cores", strconv.Itoa(info.PhysicalCores)},
		{"Logical cores", strconv.Itoa(info.LogicalCores)},
		{"Threads per core", strconv.Itoa(info.ThreadsPerCore)},
		{"Sockets", strconv.Itoa(info.Sockets)},
		{"Vendor", info.Vendor},
		{"Brand", info.Brand},
		{"Source", info.Source},
	})
	return nil
}

// cpuProvider picks the EC2 provider when an instance type is given and the
// local detector otherwise.
func cpuProvider(ctx context.Context, instanceType, cpuinfo string) (topology.Provider, error) {
	if instanceType == "" {
		return &topology.Local{Path: cpuinfo}, nil
	}
	cfg, err := cloud.LoadConfig(ctx, awsRegion)
	if err != nil {
		return nil, err
	}
	return &topology.EC2{Client: ec2.NewFromConfig(cfg), InstanceType: instanceType}, nil
}
