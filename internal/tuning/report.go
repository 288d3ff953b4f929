package tuning

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sort"
	"strconv"

	"github.com/accelbench/cputune/internal/mode"
	"github.com/accelbench/cputune/internal/optimizer"
	"github.com/accelbench/cputune/internal/report"
)

// Report prints the outcome of a study and writes its CSV (and, for the
// both mode, the Pareto plot) into outDir. It returns the written files.
func Report(w io.Writer, study *optimizer.Study, m mode.Mode, expName, outDir string) ([]string, error) {
	if len(study.CompletedTrials()) == 0 {
		return nil, fmt.Errorf("report: %w", optimizer.ErrNoCompletedTrials)
	}
	if m == mode.Both {
		return reportMultiObjective(w, study, expName, outDir)
	}
	return reportSingleObjective(w, study, m, expName, outDir)
}

func reportSingleObjective(w io.Writer, study *optimizer.Study, m mode.Mode, expName, outDir string) ([]string, error) {
	best, err := study.BestTrial()
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	imps, err := optimizer.ParamImportances(study, optimizer.ObjectiveValue(0))
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}

	objective := ObjectiveLatency
	if m == mode.Throughput {
		objective = ObjectiveThroughput
	}
	names := sortedKeys(best.Params)

	fmt.Fprintf(w, "Best %s: %s (trial %d)\n", objective, report.Float(best.Value()), best.Number)
	fmt.Fprintf(w, "Best parameters: %s\n\n", report.Params(best.Params, names))
	fmt.Fprintln(w, "Parameter importances:")
	rows := make([][]string, 0, len(imps))
	for _, imp := range imps {
		rows = append(rows, []string{imp.Param, formatScore(imp.Score)})
	}
	report.Table(w, []string{"Param", "Importance"}, rows)

	headers := append([]string{""}, names...)
	importance := []string{"importance"}
	value := []string{"value"}
	for _, name := range names {
		importance = append(importance, formatScore(imps.Get(name)))
		value = append(value, fmt.Sprint(best.Params[name]))
	}
	path := filepath.Join(outDir, expName+"_importances_and_values.csv")
	if err := report.WriteCSVFile(path, headers, [][]string{importance, value}); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

func reportMultiObjective(w io.Writer, study *optimizer.Study, expName, outDir string) ([]string, error) {
	latency, err := optimizer.ParamImportances(study, optimizer.ObjectiveValue(0))
	if err != nil {
		return nil, fmt.Errorf("report latency importances: %w", err)
	}
	throughput, err := optimizer.ParamImportances(study, optimizer.ObjectiveValue(1))
	if err != nil {
		return nil, fmt.Errorf("report throughput importances: %w", err)
	}

	names := latency.Params()
	for _, p := range throughput.Params() {
		if !slices.Contains(names, p) {
			names = append(names, p)
		}
	}
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, formatScore(latency.Get(name)), formatScore(throughput.Get(name))})
	}
	headers := []string{"", ObjectiveLatency, ObjectiveThroughput}

	fmt.Fprintln(w, "Parameter importances:")
	report.Table(w, headers, rows)
	csvPath := filepath.Join(outDir, expName+"_importances.csv")
	if err := report.WriteCSVFile(csvPath, headers, rows); err != nil {
		return nil, err
	}

	front, err := study.BestTrials()
	if err != nil {
		return nil, fmt.Errorf("report pareto front: %w", err)
	}
	completed := study.CompletedTrials()
	all := make([]report.Point, len(completed))
	for i, t := range completed {
		all[i] = report.Point{X: t.Values[0], Y: t.Values[1]}
	}
	best := make([]report.Point, len(front))
	for i, t := range front {
		best[i] = report.Point{X: t.Values[0], Y: t.Values[1]}
	}
	pngPath := filepath.Join(outDir, expName+"_pareto_front.png")
	if err := report.ParetoPlot(pngPath, "Pareto-front "+expName, ObjectiveLatency+" (ms)", ObjectiveThroughput, all, best); err != nil {
		return nil, err
	}

	fmt.Fprintf(w, "\nTrials on the Pareto front: %d\n", len(front))
	frontRows := make([][]string, 0, len(front))
	for _, t := range front {
		frontRows = append(frontRows, []string{
			strconv.Itoa(t.Number),
			report.Float(t.Values[0]),
			report.Float(t.Values[1]),
			report.Params(t.Params, sortedKeys(t.Params)),
		})
	}
	report.Table(w, []string{"Trial", ObjectiveLatency, ObjectiveThroughput, "Params"}, frontRows)
	return []string{csvPath, pngPath}, nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
