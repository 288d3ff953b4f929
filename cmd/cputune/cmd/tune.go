package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/accelbench/cputune/internal/cloud"
	"github.com/accelbench/cputune/internal/config"
	"github.com/accelbench/cputune/internal/launcher"
	"github.com/accelbench/cputune/internal/optimizer"
	"github.com/accelbench/cputune/internal/report"
	"github.com/accelbench/cputune/internal/space"
	"github.com/accelbench/cputune/internal/tuning"
)

var tuneCmd = &cobra.Command{
	Use:   "tune [flags] -- <workload command>",
	Short: "Search launch configurations for a workload",
	Long: `Run n trials of the workload, each with a sampled launch configuration, and
report the best configuration (latency, throughput) or the Pareto front (both).

The workload receives main parameters as --key=value flags and must print a JSON
object with latency_ms and throughput (or latencies_ms, samples, duration_s).

Launcher parameters given with --launcher-param are never sampled; a comma list
is sampled as a candidate set.

Examples:
  cputune tune --mode latency --exp-name bert --n-trials 30 --batch-size 1 -- python bench.py
  cputune tune --mode both --exp-name bert --batch-size 8,16,32 --launcher-param allocator=jemalloc -- ./bench
  cputune tune --config tune.yaml --n-trials 100`,
	RunE: runTune,
}

var (
	tuneConfig         string
	tuneMode           string
	tuneExpName        string
	tuneNTrials        int
	tuneBatchSize      string
	tuneMainParams     []string
	tuneLauncherParams []string
	tuneSeed           int64
	tunePin            string
	tuneLibDirs        []string
	tuneInstanceType   string
	tuneCPUInfo        string
	tuneS3Bucket       string
	tuneS3Prefix       string
)

func init() {
	tuneCmd.Flags().StringVar(&tuneConfig, "config", "", "YAML tuning file; flags override its values")
	tuneCmd.Flags().StringVar(&tuneMode, "mode", "", "Tuning mode: latency, throughput or both")
	tuneCmd.Flags().StringVar(&tuneExpName, "exp-name", "", "Experiment name, used to name output files")
	tuneCmd.Flags().IntVar(&tuneNTrials, "n-trials", 0, "Number of trials")
	tuneCmd.Flags().StringVar(&tuneBatchSize, "batch-size", "", "Batch size, or a comma list of candidates")
	tuneCmd.Flags().StringArrayVar(&tuneMainParams, "main-param", nil, "Workload parameter key=value (repeatable; comma list for candidates)")
	tuneCmd.Flags().StringArrayVar(&tuneLauncherParams, "launcher-param", nil, "Launcher override key=value (repeatable): instances, nb_cores, openmp, allocator, huge_pages")
	tuneCmd.Flags().Int64Var(&tuneSeed, "seed", 0, "Sampler seed; 0 picks a random seed")
	tuneCmd.Flags().StringVar(&tunePin, "pin", "", "Core pinning tool: taskset, numactl or none")
	tuneCmd.Flags().StringArrayVar(&tuneLibDirs, "lib-dir", nil, "Directory searched for libiomp5, tcmalloc and jemalloc (repeatable)")
	tuneCmd.Flags().StringVar(&tuneInstanceType, "instance-type", "", "Plan for an EC2 instance type instead of the local CPUs")
	tuneCmd.Flags().StringVar(&tuneCPUInfo, "cpuinfo", "", "cpuinfo file to read instead of /proc/cpuinfo")
	tuneCmd.Flags().StringVar(&tuneS3Bucket, "s3-bucket", envOrDefault("CPUTUNE_S3_BUCKET", ""), "Upload the experiment outputs to this bucket")
	tuneCmd.Flags().StringVar(&tuneS3Prefix, "s3-prefix", "cputune", "Key prefix for uploaded outputs")
	RootCmd.AddCommand(tuneCmd)
}

func runTune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	file := &config.File{}
	if tuneConfig != "" {
		f, err := config.Load(tuneConfig)
		if err != nil {
			return err
		}
		file = f
	}
	if err := applyTuneFlags(cmd.Flags(), file, args); err != nil {
		return err
	}
	if len(file.Command) == 0 {
		return fmt.Errorf("no workload command: pass it after -- or set command in the tuning file")
	}
	opts, err := file.Options()
	if err != nil {
		return err
	}
	if opts.OutputDir == "" || cmd.Flags().Changed("output-dir") {
		opts.OutputDir = outputDir
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	cpu, err := cpuProvider(ctx, tuneInstanceType, tuneCPUInfo)
	if err != nil {
		return err
	}
	repo, closeRepo, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	proc := &launcher.Process{
		Command: file.Command,
		Pin:     file.Pin,
		LibDirs: file.LibDirs,
	}
	tuner := &tuning.Tuner{
		CPU:      cpu,
		Launcher: proc,
		Repo:     repo,
		Out:      cmd.OutOrStdout(),
	}
	if tuneS3Bucket != "" {
		cfg, err := cloud.LoadConfig(ctx, awsRegion)
		if err != nil {
			return err
		}
		tuner.Uploader = &cloud.Uploader{
			Client: s3.NewFromConfig(cfg),
			Bucket: tuneS3Bucket,
			Prefix: tuneS3Prefix,
		}
	}
	jsonOut := getFormat() == report.FormatJSON
	if jsonOut {
		tuner.Out = io.Discard
	}

	progress := make(chan optimizer.ProgressUpdate, 16)
	done := make(chan struct{})
	tuner.Progress = progress
	go func() {
		defer close(done)
		for u := range progress {
			fmt.Fprintf(cmd.ErrOrStderr(), "trial %d/%d %s values=%v elapsed=%s\n",
				u.Trial+1, u.TotalTrials, u.State, u.Values, u.Elapsed.Round(time.Second))
		}
	}()
	res, err := tuner.Tune(ctx, opts)
	close(progress)
	<-done
	if err != nil {
		return err
	}

	if jsonOut {
		summary := map[string]any{
			"experiment": opts.ExpName,
			"mode":       opts.Mode,
			"files":      res.Files,
		}
		if best, err := res.Study.BestTrials(); err == nil {
			summary["best_trials"] = best
		}
		return report.JSON(cmd.OutOrStdout(), summary)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nStudy saved to %s\n", res.StudyPath)
	return nil
}

// applyTuneFlags overlays the flags the user set onto the tuning file.
func applyTuneFlags(fs *pflag.FlagSet, f *config.File, args []string) error {
	if fs.Changed("mode") {
		f.Mode = tuneMode
	}
	if fs.Changed("exp-name") {
		f.ExpName = tuneExpName
	}
	if fs.Changed("n-trials") {
		f.NTrials = tuneNTrials
	}
	if fs.Changed("seed") {
		f.Seed = tuneSeed
	}
	if fs.Changed("pin") {
		if err := config.ValidatePin(tunePin); err != nil {
			return err
		}
		f.Pin = tunePin
	}
	if fs.Changed("lib-dir") {
		f.LibDirs = tuneLibDirs
	}
	if len(args) > 0 {
		f.Command = args
	}

	if f.MainParameters == nil {
		f.MainParameters = space.Parameters{}
	}
	if f.LauncherParameters == nil {
		f.LauncherParameters = space.Parameters{}
	}
	if fs.Changed("batch-size") {
		f.MainParameters[tuning.KeyBatchSize] = space.ParseValue(tuneBatchSize)
	}
	for _, a := range tuneMainParams {
		k, v, err := space.ParseAssignment(a)
		if err != nil {
			return fmt.Errorf("--main-param: %w", err)
		}
		f.MainParameters[k] = v
	}
	for _, a := range tuneLauncherParams {
		k, v, err := space.ParseAssignment(a)
		if err != nil {
			return fmt.Errorf("--launcher-param: %w", err)
		}
		f.LauncherParameters[k] = v
	}
	return nil
}
