// Package plothook renders each registration as top and side projections of the reference and the
// aligned source, for eyeballing alignment quality without a 3D viewer.
package plothook

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/pcdgrasp/grasp"
	"go.viam.com/pcdgrasp/logging"
	"go.viam.com/pcdgrasp/registration"
)

var (
	referenceColor = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	alignedColor   = color.RGBA{R: 220, G: 30, B: 30, A: 255}
)

type projection struct {
	name   string
	xLabel string
	yLabel string
	coords func(p r3.Vector) (float64, float64)
}

var projections = []projection{
	{"top", "x (m)", "y (m)", func(p r3.Vector) (float64, float64) { return p.X, p.Y }},
	{"side", "x (m)", "z (m)", func(p r3.Vector) (float64, float64) { return p.X, p.Z }},
}

// Hook writes one PNG per projection for every registration into a directory.
type Hook struct {
	dir    string
	size   vg.Length
	logger logging.Logger

	mu    sync.Mutex
	count int
}

// New returns a hook writing into dir, creating it if needed.
func New(dir string, logger logging.Logger) (*Hook, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to create plot dir")
	}
	return &Hook{dir: dir, size: 6 * vg.Inch, logger: logger}, nil
}

// AfterRegister plots the reference in gray and the source, moved by the fine transform, in red.
func (h *Hook) AfterRegister(ctx context.Context, target *registration.Preprocessed, res *grasp.Result) error {
	if res == nil || res.Source == nil || res.Fine == nil {
		return errors.New("registration result has no source to plot")
	}
	h.mu.Lock()
	h.count++
	n := h.count
	h.mu.Unlock()

	aligned := make([]r3.Vector, 0, res.Source.Size())
	for _, p := range res.Source.Points() {
		aligned = append(aligned, res.Fine.Transform.Apply(p))
	}

	files := make([]string, 0, len(projections))
	for _, proj := range projections {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := plot.New()
		p.Title.Text = fmt.Sprintf("registration %d %s (fitness %.3f, rmse %.4f)",
			n, proj.name, res.Fine.Fitness, res.Fine.InlierRMSE)
		p.X.Label.Text = proj.xLabel
		p.Y.Label.Text = proj.yLabel
		p.Legend.Top = true

		if err := addScatter(p, "reference", target.Points(), proj, referenceColor); err != nil {
			return err
		}
		if err := addScatter(p, "aligned source", aligned, proj, alignedColor); err != nil {
			return err
		}

		fn := filepath.Join(h.dir, fmt.Sprintf("registration_%04d_%s.png", n, proj.name))
		if err := p.Save(h.size, h.size, fn); err != nil {
			return errors.Wrapf(err, "failed to save %s plot", proj.name)
		}
		files = append(files, fn)
	}
	h.logger.CDebugw(ctx, "wrote registration plots", "files", files)
	return nil
}

func addScatter(p *plot.Plot, label string, points []r3.Vector, proj projection, c color.Color) error {
	xys := make(plotter.XYs, len(points))
	for i, pt := range points {
		xys[i].X, xys[i].Y = proj.coords(pt)
	}
	s, err := plotter.NewScatter(xys)
	if err != nil {
		return errors.Wrapf(err, "failed to plot %s", label)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = vg.Points(1)
	p.Add(s)
	p.Legend.Add(label, s)
	return nil
}
