package stats

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"seqcast/internal/signal"
)

// PlotForecast writes a PNG with one line per forecast channel over the
// matching ground truth (grey). offset is the ground-truth row the forecast's
// first row lines up with; truth may be nil.
func PlotForecast(path, title string, forecast, truth *mat.Dense, offset int) error {
	if signal.IsEmpty(forecast) {
		return signal.ErrEmpty
	}
	if !signal.IsEmpty(truth) && signal.Channels(truth) != signal.Channels(forecast) {
		return fmt.Errorf("plot: %w: forecast has %d channels, truth has %d",
			signal.ErrChannelMismatch, signal.Channels(forecast), signal.Channels(truth))
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "timestep"
	p.Y.Label.Text = "value"
	p.Add(plotter.NewGrid())

	for c := 0; c < signal.Channels(forecast); c++ {
		if !signal.IsEmpty(truth) {
			line, err := plotter.NewLine(columnXYs(truth, c, 0))
			if err != nil {
				return err
			}
			line.Color = color.RGBA{R: 120, G: 120, B: 120, A: 180}
			line.Width = vg.Points(0.8)
			p.Add(line)
			if c == 0 {
				p.Legend.Add("ground truth", line)
			}
		}

		line, err := plotter.NewLine(columnXYs(forecast, c, offset))
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(c)
		line.Width = vg.Points(1.2)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("channel %d", c), line)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}

func columnXYs(m *mat.Dense, col, offset int) plotter.XYs {
	rows := signal.Len(m)
	xys := make(plotter.XYs, rows)
	for i := 0; i < rows; i++ {
		xys[i] = plotter.XY{X: float64(offset + i), Y: m.At(i, col)}
	}
	return xys
}
