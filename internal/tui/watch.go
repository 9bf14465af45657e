// Package tui renders live optimizer telemetry in the terminal.
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/kiteopt/internal/telemetry"
)

const (
	canvasWidth     = 44
	canvasHeight    = 16
	historyCapacity = 120
)

var (
	canvasStyle = lipgloss.NewStyle().Padding(1, 2)
	statsStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("240")).Padding(1, 2).Width(42)
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

// Source yields decoded telemetry. *telemetry.Subscriber implements it.
type Source interface {
	Recv() (*telemetry.KiteOpt, error)
}

type kiteMsg struct {
	msg *telemetry.KiteOpt
	at  time.Time
}

type errMsg struct{ err error }

// view selects the projection plane of the loop.
type view int

const (
	viewDownwind view = iota // y-z, looking along the wind
	viewTop                  // x-y
	viewSide                 // x-z
)

var views = []struct {
	name string
	h, v string
}{
	{"downwind", "y", "z"},
	{"top", "x", "y"},
	{"side", "x", "z"},
}

// Model is the bubbletea model of the watch screen.
type Model struct {
	src      Source
	endpoint string

	last     *telemetry.KiteOpt
	received int
	lastAt   time.Time
	rate     float64
	paused   bool
	view     view
	err      error

	altitude []float64
}

func NewModel(src Source, endpoint string) Model {
	return Model{
		src:      src,
		endpoint: endpoint,
		altitude: make([]float64, 0, historyCapacity),
	}
}

func (m Model) Init() tea.Cmd {
	return m.recv()
}

func (m Model) recv() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		msg, err := src.Recv()
		if err != nil {
			return errMsg{err}
		}
		return kiteMsg{msg: msg, at: time.Now()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "p":
			m.paused = !m.paused
		case "v":
			m.view = (m.view + 1) % view(len(views))
		}
		return m, nil
	case kiteMsg:
		m.received++
		if !m.lastAt.IsZero() {
			if dt := msg.at.Sub(m.lastAt).Seconds(); dt > 0 {
				m.rate = 1 / dt
			}
		}
		m.lastAt = msg.at
		if !m.paused {
			m.last = msg.msg
			if _, hi, ok := m.series("z"); ok {
				m.altitude = append(m.altitude, maxOf(hi))
				if len(m.altitude) > historyCapacity {
					m.altitude = m.altitude[1:]
				}
			}
		}
		return m, m.recv()
	case errMsg:
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

// series returns name over every sampled node of the last message.
func (m Model) series(name string) ([]float64, []float64, bool) {
	if m.last == nil {
		return nil, nil, false
	}
	n := len(m.last.States)
	idx := make([]float64, n)
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		v, ok := m.last.Lookup(name, k)
		if !ok {
			return nil, nil, false
		}
		idx[k] = float64(k)
		out[k] = v
	}
	return idx, out, true
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("kiteopt watch  " + m.endpoint))
	s.WriteString("\n")

	if m.last == nil {
		status := "waiting for telemetry..."
		if m.err != nil {
			status = errStyle.Render(m.err.Error())
		}
		s.WriteString(valueStyle.Render(status) + "\n")
		s.WriteString(helpStyle.Render("q quit"))
		return s.String()
	}

	v := views[m.view]
	canvas := NewCanvas(canvasWidth, canvasHeight)
	_, hs, okH := m.series(v.h)
	_, vs, okV := m.series(v.v)
	if okH && okV {
		canvas.Path(hs, vs)
	}
	left := canvasStyle.Render(fmt.Sprintf("%s (%s, %s)\n%s", v.name, v.h, v.v, canvas.String()))

	var r strings.Builder
	row := func(label, value string) {
		r.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("Iteration", fmt.Sprintf("%d", m.last.Iters))
	row("Stage", fmt.Sprintf("%d", m.last.Stage))
	row("End time", fmt.Sprintf("%.4fs", m.last.EndTime))
	row("Wind", fmt.Sprintf("%.2f m/s", m.last.WindSpeed))
	row("Nodes", fmt.Sprintf("%d", len(m.last.States)))
	row("Received", fmt.Sprintf("%d (%.1f/s)", m.received, m.rate))
	if g, ok := m.last.Lookup("gamma_homotopy", 0); ok {
		row("Homotopy", fmt.Sprintf("%.4f", g))
	}
	if m.paused {
		row("Status", "paused")
	}
	if _, z, ok := m.series("z"); ok && len(z) > 1 {
		chart := asciigraph.Plot(z, asciigraph.Height(5), asciigraph.Width(34), asciigraph.Caption("altitude over loop"))
		r.WriteString(graphStyle.Render(chart) + "\n")
	}
	if len(m.altitude) > 1 {
		chart := asciigraph.Plot(m.altitude, asciigraph.Height(4), asciigraph.Width(34), asciigraph.Caption("peak altitude"))
		r.WriteString(graphStyle.Render(chart) + "\n")
	}
	right := statsStyle.Render(r.String())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("space pause  v view  q quit"))
	return s.String()
}

// Err is the receive error that ended the session, if any.
func (m Model) Err() error { return m.err }

func maxOf(v []float64) float64 {
	out := math.Inf(-1)
	for _, x := range v {
		out = math.Max(out, x)
	}
	return out
}
