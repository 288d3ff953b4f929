package tuning

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/accelbench/cputune/internal/database"
	"github.com/accelbench/cputune/internal/launcher"
	"github.com/accelbench/cputune/internal/optimizer"
	"github.com/accelbench/cputune/internal/topology"
)

// Uploader ships finished experiment files somewhere durable.
type Uploader interface {
	Upload(ctx context.Context, files []string) ([]string, error)
}

// Tuner wires a tuning run to its collaborators. Repo and Uploader are
// optional.
type Tuner struct {
	CPU      topology.Provider
	Launcher launcher.Launcher
	Repo     database.Repo
	Uploader Uploader
	// Out receives the printed report. Nil means stdout.
	Out io.Writer
	// Progress receives a non-blocking update after every trial.
	Progress chan<- optimizer.ProgressUpdate
}

// Result is what a tuning run produced.
type Result struct {
	Study     *optimizer.Study
	StudyPath string
	Files     []string
}

// Tune runs opts.NTrials trials, saves the study and writes the report. The
// study is saved even when the trial loop is interrupted.
func (t *Tuner) Tune(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	strategy, err := StrategyFor(opts.Mode, opts.Seed)
	if err != nil {
		return nil, err
	}

	studyOpts := []optimizer.Option{optimizer.WithSampler(strategy.Sampler)}
	if t.Progress != nil {
		studyOpts = append(studyOpts, optimizer.WithProgress(t.Progress))
	}
	study, err := optimizer.CreateStudy(opts.ExpName, strategy.Directions, studyOpts...)
	if err != nil {
		return nil, err
	}

	objective := &Objective{
		Mode:               opts.Mode,
		CPU:                t.CPU,
		Launcher:           t.Launcher,
		Values:             strategy.Values,
		LauncherParameters: opts.LauncherParameters.Clone(),
		MainParameters:     opts.MainParameters.Clone(),
	}

	klog.InfoS("Starting tuning", "experiment", opts.ExpName, "mode", opts.Mode, "trials", opts.NTrials)
	started := time.Now()
	optimizeErr := study.Optimize(ctx, func(ctx context.Context, trial *optimizer.Trial) ([]float64, error) {
		return objective.Evaluate(ctx, trial)
	}, opts.NTrials)
	klog.InfoS("Trials finished", "experiment", opts.ExpName,
		"completed", len(study.CompletedTrials()), "total", len(study.Trials()),
		"elapsed", time.Since(started).Round(time.Second))

	if err := os.MkdirAll(opts.outputDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	res := &Result{Study: study, StudyPath: opts.OutputPath("_study.json")}
	if err := study.SaveFile(res.StudyPath); err != nil {
		return nil, err
	}
	res.Files = append(res.Files, res.StudyPath)
	klog.InfoS("Saved study", "path", res.StudyPath)

	if t.Repo != nil {
		// Persist even if ctx was cancelled mid-run.
		if err := persist(context.WithoutCancel(ctx), t.Repo, study, opts, optimizeErr); err != nil {
			klog.ErrorS(err, "Failed to persist study to database", "experiment", opts.ExpName)
		}
	}
	if optimizeErr != nil {
		return res, fmt.Errorf("optimize: %w", optimizeErr)
	}

	files, err := Report(t.out(), study, opts.Mode, opts.ExpName, opts.outputDir())
	if err != nil {
		return res, err
	}
	res.Files = append(res.Files, files...)

	if t.Uploader != nil {
		if _, err := t.Uploader.Upload(ctx, res.Files); err != nil {
			return res, fmt.Errorf("upload outputs: %w", err)
		}
	}
	return res, nil
}

func (t *Tuner) out() io.Writer {
	if t.Out == nil {
		return os.Stdout
	}
	return t.Out
}

func persist(ctx context.Context, repo database.Repo, study *optimizer.Study, opts Options, runErr error) error {
	host, _ := os.Hostname()
	dirs := make([]string, 0, 2)
	for _, d := range study.Directions() {
		dirs = append(dirs, string(d))
	}
	id, err := repo.CreateStudy(ctx, &database.Study{
		Name:       study.Name,
		Mode:       opts.Mode.String(),
		Directions: dirs,
		NTrials:    opts.NTrials,
		Host:       host,
	})
	if err != nil {
		return err
	}

	trials := study.Trials()
	rows := make([]database.Trial, len(trials))
	for i, ft := range trials {
		rows[i] = toRow(ft)
	}
	if err := repo.SaveTrials(ctx, id, rows); err != nil {
		return err
	}

	status := database.StatusCompleted
	if runErr != nil || len(study.CompletedTrials()) == 0 {
		status = database.StatusFailed
	}
	return repo.UpdateStudyStatus(ctx, id, status)
}

func toRow(ft optimizer.FrozenTrial) database.Trial {
	row := database.Trial{
		Number:    ft.Number,
		State:     string(ft.State),
		Values:    ft.Values,
		Params:    ft.Params,
		UserAttrs: ft.UserAttrs,
		StartedAt: ft.DatetimeStart,
	}
	if !ft.DatetimeComplete.IsZero() {
		done := ft.DatetimeComplete
		row.CompletedAt = &done
	}
	if ft.Error != "" {
		msg := ft.Error
		row.Error = &msg
	}
	return row
}
