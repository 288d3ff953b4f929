package tuning

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/accelbench/cputune/internal/database"
	"github.com/accelbench/cputune/internal/mode"
	"github.com/accelbench/cputune/internal/optimizer"
	"github.com/accelbench/cputune/internal/space"
	"github.com/accelbench/cputune/internal/topology"
)

type fakeUploader struct {
	files []string
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, files []string) ([]string, error) {
	f.files = append(f.files, files...)
	if f.err != nil {
		return nil, f.err
	}
	urls := make([]string, len(files))
	for i, file := range files {
		urls[i] = "s3://bucket/" + filepath.Base(file)
	}
	return urls, nil
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestTune_Latency(t *testing.T) {
	dir := t.TempDir()
	fl := &fakeLauncher{}
	repo := database.NewMockRepo()
	var out bytes.Buffer
	tuner := &Tuner{
		CPU:      topology.Static{PhysicalCores: 8},
		Launcher: fl,
		Repo:     repo,
		Out:      &out,
	}

	res, err := tuner.Tune(context.Background(), Options{
		Mode:           mode.Latency,
		ExpName:        "exp",
		NTrials:        5,
		MainParameters: space.Parameters{KeyBatchSize: space.Fixed(8)},
		OutputDir:      dir,
		Seed:           7,
	})
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	if got := len(res.Study.CompletedTrials()); got != 5 {
		t.Errorf("completed trials = %d, want 5", got)
	}
	if fl.calls != 5 {
		t.Errorf("launcher calls = %d, want 5", fl.calls)
	}

	studyPath := filepath.Join(dir, "exp_study.json")
	if res.StudyPath != studyPath {
		t.Errorf("StudyPath = %s, want %s", res.StudyPath, studyPath)
	}
	loaded, err := optimizer.LoadFile(studyPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(loaded.Trials()) != 5 {
		t.Errorf("saved study has %d trials", len(loaded.Trials()))
	}
	if m, err := ModeOf(loaded); err != nil || m != mode.Latency {
		t.Errorf("ModeOf(saved) = %v, %v", m, err)
	}

	rows := readCSV(t, filepath.Join(dir, "exp_importances_and_values.csv"))
	if len(rows) != 3 {
		t.Fatalf("csv rows = %d, want header, importance and value", len(rows))
	}
	if rows[0][0] != "" || rows[1][0] != "importance" || rows[2][0] != "value" {
		t.Errorf("unexpected csv layout: %v", rows)
	}
	best, err := res.Study.BestTrial()
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(best.Params))
	for k := range best.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	if !reflect.DeepEqual(rows[0][1:], names) {
		t.Fatalf("csv columns = %v, want best params %v", rows[0][1:], names)
	}
	for i, name := range names {
		if got, want := rows[2][i+1], fmt.Sprint(best.Params[name]); got != want {
			t.Errorf("csv value of %s = %q, want %q", name, got, want)
		}
	}
	if !strings.Contains(out.String(), "Best Latency") {
		t.Errorf("report output missing best value:\n%s", out.String())
	}

	stored, err := repo.GetStudyByName(context.Background(), "exp")
	if err != nil || stored == nil {
		t.Fatalf("study not persisted: %v", err)
	}
	if stored.Status != database.StatusCompleted || stored.Mode != "latency" {
		t.Errorf("stored study = %+v", stored)
	}
	trials, _ := repo.ListTrials(context.Background(), stored.ID)
	if len(trials) != 5 {
		t.Errorf("stored trials = %d, want 5", len(trials))
	}
}

func TestTune_BothWithOverride(t *testing.T) {
	dir := t.TempDir()
	fl := &fakeLauncher{}
	up := &fakeUploader{}
	var out bytes.Buffer
	tuner := &Tuner{
		CPU:      topology.Static{PhysicalCores: 16},
		Launcher: fl,
		Uploader: up,
		Out:      &out,
	}

	res, err := tuner.Tune(context.Background(), Options{
		Mode:               mode.Both,
		ExpName:            "pareto",
		NTrials:            8,
		MainParameters:     space.Parameters{KeyBatchSize: space.OneOf(8, 16)},
		LauncherParameters: space.Parameters{"allocator": space.Fixed("jemalloc")},
		OutputDir:          dir,
		Seed:               3,
	})
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	for i, cfg := range fl.configs {
		if cfg.Allocator != "jemalloc" {
			t.Errorf("trial %d allocator = %s, want the override", i, cfg.Allocator)
		}
	}
	for _, ft := range res.Study.Trials() {
		if _, sampled := ft.Params["allocator"]; sampled {
			t.Errorf("trial %d sampled the overridden allocator", ft.Number)
		}
	}

	rows := readCSV(t, filepath.Join(dir, "pareto_importances.csv"))
	if got := rows[0]; len(got) != 3 || got[1] != ObjectiveLatency || got[2] != ObjectiveThroughput {
		t.Errorf("csv header = %v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "pareto_pareto_front.png")); err != nil {
		t.Errorf("pareto plot missing: %v", err)
	}

	want := []string{"pareto_importances.csv", "pareto_pareto_front.png", "pareto_study.json"}
	var got []string
	for _, f := range up.files {
		got = append(got, filepath.Base(f))
	}
	sort.Strings(got)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("uploaded %v, want %v", got, want)
	}
	if !strings.Contains(out.String(), "Pareto front") {
		t.Errorf("report output missing front:\n%s", out.String())
	}
}

func TestTune_FailedTrialDoesNotStopStudy(t *testing.T) {
	dir := t.TempDir()
	fl := &fakeLauncher{failOn: map[int]bool{1: true}}
	repo := database.NewMockRepo()
	tuner := &Tuner{CPU: topology.Static{PhysicalCores: 4}, Launcher: fl, Repo: repo, Out: &bytes.Buffer{}}

	res, err := tuner.Tune(context.Background(), Options{
		Mode:           mode.Throughput,
		ExpName:        "flaky",
		NTrials:        4,
		MainParameters: space.Parameters{KeyBatchSize: space.Fixed(4)},
		OutputDir:      dir,
	})
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	trials := res.Study.Trials()
	if len(trials) != 4 {
		t.Fatalf("trials = %d, want 4", len(trials))
	}
	if trials[1].State != optimizer.TrialFail || trials[1].Error == "" {
		t.Errorf("trial 1 = %+v, want a recorded failure", trials[1])
	}
	if len(res.Study.CompletedTrials()) != 3 {
		t.Errorf("completed = %d, want 3", len(res.Study.CompletedTrials()))
	}

	stored, _ := repo.GetStudyByName(context.Background(), "flaky")
	storedTrials, _ := repo.ListTrials(context.Background(), stored.ID)
	if storedTrials[1].Error == nil {
		t.Error("failed trial persisted without its error")
	}
}

func TestTune_AllTrialsFail(t *testing.T) {
	dir := t.TempDir()
	fl := &fakeLauncher{failOn: map[int]bool{0: true, 1: true}}
	repo := database.NewMockRepo()
	tuner := &Tuner{CPU: topology.Static{PhysicalCores: 4}, Launcher: fl, Repo: repo, Out: &bytes.Buffer{}}

	res, err := tuner.Tune(context.Background(), Options{
		Mode:           mode.Latency,
		ExpName:        "broken",
		NTrials:        2,
		MainParameters: space.Parameters{KeyBatchSize: space.Fixed(4)},
		OutputDir:      dir,
	})
	if !errors.Is(err, optimizer.ErrNoCompletedTrials) {
		t.Fatalf("err = %v, want ErrNoCompletedTrials", err)
	}
	if res == nil {
		t.Fatal("result should carry the saved study")
	}
	if _, err := os.Stat(res.StudyPath); err != nil {
		t.Errorf("study not saved: %v", err)
	}
	stored, _ := repo.GetStudyByName(context.Background(), "broken")
	if stored.Status != database.StatusFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
}

func TestTune_CancelledSavesPartialStudy(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tuner := &Tuner{CPU: topology.Static{PhysicalCores: 4}, Launcher: &fakeLauncher{}, Out: &bytes.Buffer{}}

	res, err := tuner.Tune(ctx, Options{
		Mode:           mode.Latency,
		ExpName:        "stopped",
		NTrials:        3,
		MainParameters: space.Parameters{KeyBatchSize: space.Fixed(4)},
		OutputDir:      dir,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, statErr := os.Stat(res.StudyPath); statErr != nil {
		t.Errorf("study not saved after cancel: %v", statErr)
	}
}

func TestTune_ValidatesBeforeRunning(t *testing.T) {
	fl := &fakeLauncher{}
	tuner := &Tuner{CPU: topology.Static{PhysicalCores: 4}, Launcher: fl}
	_, err := tuner.Tune(context.Background(), Options{
		Mode:           mode.Latency,
		ExpName:        "exp",
		NTrials:        3,
		MainParameters: space.Parameters{"seq_len": space.Fixed(128)},
		OutputDir:      t.TempDir(),
	})
	if !errors.Is(err, ErrMissingBatchSize) {
		t.Fatalf("err = %v, want ErrMissingBatchSize", err)
	}
	if fl.calls != 0 {
		t.Errorf("launcher ran %d times before validation failed", fl.calls)
	}
}

func TestTune_ProgressUpdates(t *testing.T) {
	progress := make(chan optimizer.ProgressUpdate, 10)
	tuner := &Tuner{
		CPU:      topology.Static{PhysicalCores: 4},
		Launcher: &fakeLauncher{},
		Out:      &bytes.Buffer{},
		Progress: progress,
	}
	if _, err := tuner.Tune(context.Background(), Options{
		Mode:           mode.Throughput,
		ExpName:        "progress",
		NTrials:        3,
		MainParameters: space.Parameters{KeyBatchSize: space.Fixed(4)},
		OutputDir:      t.TempDir(),
	}); err != nil {
		t.Fatal(err)
	}
	close(progress)
	var n int
	for u := range progress {
		if u.TotalTrials != 3 {
			t.Errorf("TotalTrials = %d, want 3", u.TotalTrials)
		}
		n++
	}
	if n != 3 {
		t.Errorf("progress updates = %d, want 3", n)
	}
}
