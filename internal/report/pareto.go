package report

import (
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Point is one trial in objective space.
type Point struct {
	X, Y float64
}

// ParetoPlot saves a scatter of all trials with the Pareto-optimal ones
// highlighted and joined. The image format follows the file extension.
func ParetoPlot(path, title, xLabel, yLabel string, trials, front []Point) error {
	if len(trials) == 0 {
		return fmt.Errorf("pareto plot: no trials")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())

	all, err := plotter.NewScatter(toXYs(trials))
	if err != nil {
		return fmt.Errorf("pareto plot: %w", err)
	}
	all.GlyphStyle.Color = color.RGBA{R: 160, G: 160, B: 160, A: 255}
	all.GlyphStyle.Radius = vg.Points(2.5)
	all.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(all)
	p.Legend.Add("Trial", all)

	if len(front) > 0 {
		sorted := append([]Point(nil), front...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })
		xys := toXYs(sorted)

		line, err := plotter.NewLine(xys)
		if err != nil {
			return fmt.Errorf("pareto plot: %w", err)
		}
		line.LineStyle.Color = color.RGBA{R: 200, G: 40, B: 40, A: 255}
		line.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

		best, err := plotter.NewScatter(xys)
		if err != nil {
			return fmt.Errorf("pareto plot: %w", err)
		}
		best.GlyphStyle.Color = color.RGBA{R: 200, G: 40, B: 40, A: 255}
		best.GlyphStyle.Radius = vg.Points(3.5)
		best.GlyphStyle.Shape = draw.CircleGlyph{}

		p.Add(line, best)
		p.Legend.Add("Best Trial", best)
	}
	p.Legend.Top = true

	if err := p.Save(7*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func toXYs(points []Point) plotter.XYs {
	xys := make(plotter.XYs, len(points))
	for i, pt := range points {
		xys[i].X = pt.X
		xys[i].Y = pt.Y
	}
	return xys
}
