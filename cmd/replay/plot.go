package main

import (
	"image/color"
	"os"
	"path/filepath"

	"github.com/Noofbiz/shapeworld/datasets"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// plotSources writes a bar chart of how often each source of mixer was
// drawn for mode, next to the probability it was given.
func plotSources(outPath string, mixer *datasets.Mixer, mode datasets.Mode, frequencies []float64) error {
	if len(frequencies) != mixer.NumSources() {
		return errors.Errorf("%d frequencies for %d sources", len(frequencies), mixer.NumSources())
	}
	p := plot.New()
	p.Title.Text = "Source frequencies of " + mixer.String()
	p.Y.Label.Text = "fraction of instances"
	p.Y.Min = 0

	names := make([]string, mixer.NumSources())
	for k, ds := range mixer.Sources() {
		names[k] = ds.String()
	}
	width := vg.Points(18)

	drawn, err := plotter.NewBarChart(plotter.Values(frequencies), width)
	if err != nil {
		return err
	}
	drawn.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	drawn.LineStyle.Width = vg.Length(0)
	drawn.Offset = -width / 2
	p.Add(drawn)
	p.Legend.Add("drawn", drawn)

	expected, err := plotter.NewBarChart(plotter.Values(mixer.Distribution(mode).Probabilities()), width)
	if err != nil {
		return err
	}
	expected.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	expected.LineStyle.Width = vg.Length(0)
	expected.Offset = width / 2
	p.Add(expected)
	p.Legend.Add("weight", expected)
	p.Legend.Top = true
	p.NominalX(names...)
	p.Add(plotter.NewGrid())

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory of %s", outPath)
	}
	return errors.Wrapf(p.Save(vg.Length(2+len(names))*vg.Inch, 5*vg.Inch, outPath), "saving plot %s", outPath)
}
