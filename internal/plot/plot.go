// Package plot renders trajectory subplots to image files.
package plot

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"gonum.org/v1/plot/vg/vgsvg"

	"github.com/san-kum/kiteopt/internal/ocp"
)

// DefaultGroups picks position, velocity and control panels from the
// variables present in traj.
func DefaultGroups(traj *ocp.Trajectory) [][]string {
	var groups [][]string
	for _, g := range [][]string{{"x", "y", "z"}, {"dx", "dy", "dz"}, {"w1", "w2", "w3"}} {
		var have []string
		for _, name := range g {
			if _, ok := traj.States[name]; ok {
				have = append(have, name)
			}
		}
		if len(have) > 0 {
			groups = append(groups, have)
		}
	}
	for _, name := range traj.Names() {
		if _, ok := traj.Controls[name]; ok {
			groups = append(groups, []string{name})
		}
	}
	return groups
}

// Subplots builds one panel per group, each with a line per variable over
// time.
func Subplots(traj *ocp.Trajectory, groups [][]string) ([]*plot.Plot, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("plot: no groups")
	}
	plots := make([]*plot.Plot, len(groups))
	for i, group := range groups {
		p := plot.New()
		p.Title.Text = strings.Join(group, ", ")
		p.X.Label.Text = "time (s)"
		p.Legend.Top = true

		for j, name := range group {
			ts, vs, err := traj.Series(name)
			if err != nil {
				return nil, fmt.Errorf("plot: %w", err)
			}
			pts := make(plotter.XYs, len(vs))
			for k := range vs {
				pts[k].X = ts[k]
				pts[k].Y = vs[k]
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return nil, fmt.Errorf("plot: %s: %w", name, err)
			}
			if _, ok := traj.Controls[name]; ok {
				line.StepStyle = plotter.PostStep
			}
			line.Color = plotutil.Color(j)
			line.Width = vg.Points(1.5)
			p.Add(line)
			p.Legend.Add(name, line)
		}
		p.Add(plotter.NewGrid())
		plots[i] = p
	}
	return plots, nil
}

// Default page size in inches.
const (
	DefaultWidth  = 8
	DefaultHeight = 10
)

// RenderSubplots is Render at the default page size.
func RenderSubplots(traj *ocp.Trajectory, groups [][]string, path string) error {
	return Render(traj, groups, DefaultWidth, DefaultHeight, path)
}

// Render stacks the subplots of groups vertically and writes them to path.
// The format follows the extension: .png or .svg.
func Render(traj *ocp.Trajectory, groups [][]string, widthIn, heightIn float64, path string) error {
	plots, err := Subplots(traj, groups)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	w, h := vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch
	var (
		canvas vg.CanvasSizer
		out    io.WriterTo
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		c := vgimg.NewWith(vgimg.UseWH(w, h), vgimg.UseDPI(150))
		canvas, out = c, vgimg.PngCanvas{Canvas: c}
	case ".svg":
		c := vgsvg.New(w, h)
		canvas, out = c, c
	default:
		return fmt.Errorf("plot: unsupported format %q", ext)
	}

	grid := make([][]*plot.Plot, len(plots))
	for i, p := range plots {
		grid[i] = []*plot.Plot{p}
	}
	tiles := draw.Tiles{
		Rows:      len(plots),
		Cols:      1,
		PadY:      vg.Points(6),
		PadX:      vg.Points(4),
		PadTop:    vg.Points(4),
		PadBottom: vg.Points(4),
	}
	dc := draw.New(canvas)
	cells := plot.Align(grid, tiles, dc)
	for i, p := range plots {
		p.Draw(cells[i][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if _, err := out.WriteTo(bw); err != nil {
		return fmt.Errorf("plot: write %s: %w", path, err)
	}
	return bw.Flush()
}
