package cmd

import (
	"context"
	goflag "flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/accelbench/cputune/internal/cloud"
	"github.com/accelbench/cputune/internal/database"
	"github.com/accelbench/cputune/internal/report"
)

var (
	outputDir        string
	outputFormat     string
	databaseURL      string
	databaseSecretID string
	awsRegion        string
)

// RootCmd is the top-level CLI command.
var RootCmd = &cobra.Command{
	Use:   "cputune",
	Short: "cputune: tune CPU launch configurations for latency and throughput",
	Long: `cputune searches instance counts, cores per instance, OpenMP runtime,
memory allocator and transparent huge pages for a CPU workload, and reports
the best configuration (or the latency/throughput Pareto front).`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&outputDir, "output-dir", envOrDefault("CPUTUNE_OUTPUT_DIR", "outputs"), "Directory for study and report files")
	RootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json")
	RootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("CPUTUNE_DATABASE_URL"), "Postgres URL for persisting studies (optional)")
	RootCmd.PersistentFlags().StringVar(&databaseSecretID, "database-secret-id", os.Getenv("CPUTUNE_DATABASE_SECRET_ID"), "Secrets Manager secret holding the Postgres URL")
	RootCmd.PersistentFlags().StringVar(&awsRegion, "aws-region", os.Getenv("AWS_REGION"), "AWS region for S3, EC2 and Secrets Manager")

	local := goflag.NewFlagSet(os.Args[0], goflag.ExitOnError)
	klog.InitFlags(local)
	local.VisitAll(func(fl *goflag.Flag) {
		RootCmd.PersistentFlags().AddGoFlag(fl)
	})
}

func getFormat() report.OutputFormat {
	if outputFormat == "json" {
		return report.FormatJSON
	}
	return report.FormatTable
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// openRepo connects to the study database when one is configured. It
// returns a nil Repo otherwise. Tests replace it.
var openRepo = func(ctx context.Context) (database.Repo, func(), error) {
	url := databaseURL
	if url == "" && databaseSecretID != "" {
		cfg, err := cloud.LoadConfig(ctx, awsRegion)
		if err != nil {
			return nil, nil, err
		}
		url, err = cloud.ResolveSecret(ctx, secretsmanager.NewFromConfig(cfg), databaseSecretID)
		if err != nil {
			return nil, nil, err
		}
	}
	if url == "" {
		return nil, func() {}, nil
	}
	repo, err := database.NewRepository(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to study database: %w", err)
	}
	return repo, repo.Close, nil
}
