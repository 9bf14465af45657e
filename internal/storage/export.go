package storage

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"

	"github.com/san-kum/kiteopt/internal/ocp"
)

type ExportData struct {
	Run        *RunMetadata         `json:"run,omitempty"`
	Model      string               `json:"model"`
	Nodes      int                  `json:"nodes"`
	Times      []float64            `json:"times"`
	States     map[string][]float64 `json:"states"`
	Controls   map[string][]float64 `json:"controls"`
	Params     map[string]float64   `json:"params"`
	Iterations int                  `json:"iterations"`
	Objective  float64              `json:"objective"`
}

func ExportJSON(w io.Writer, meta *RunMetadata, traj *ocp.Trajectory) error {
	data := ExportData{
		Run:        meta,
		Model:      traj.Model,
		Nodes:      len(traj.Times),
		Times:      traj.Times,
		States:     traj.States,
		Controls:   traj.Controls,
		Params:     traj.Params,
		Iterations: traj.Iteration,
		Objective:  traj.Objective,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExportCSV writes one row per state node. Controls are held constant over
// their interval and parameters repeat on every row.
func ExportCSV(w io.Writer, traj *ocp.Trajectory) error {
	cw := csv.NewWriter(w)

	states := sortedKeys(traj.States)
	controls := sortedKeys(traj.Controls)
	params := sortedKeys(traj.Params)

	header := []string{"time"}
	header = append(header, states...)
	header = append(header, controls...)
	header = append(header, params...)
	if err := cw.Write(header); err != nil {
		return err
	}

	d := traj.Discretization
	perInterval := d.NICP * (d.Deg + 1)
	format := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

	for n, t := range traj.Times {
		row := make([]string, 0, len(header))
		row = append(row, format(t))
		for _, name := range states {
			row = append(row, format(traj.States[name][n]))
		}
		k := 0
		if perInterval > 0 {
			k = n / perInterval
		}
		for _, name := range controls {
			u := traj.Controls[name]
			kk := k
			if kk >= len(u) {
				kk = len(u) - 1
			}
			if kk < 0 {
				row = append(row, "")
				continue
			}
			row = append(row, format(u[kk]))
		}
		for _, name := range params {
			row = append(row, format(traj.Params[name]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
