package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/kiteopt/internal/telemetry"
)

type stubSource struct {
	msgs []*telemetry.KiteOpt
	err  error
}

func (s *stubSource) Recv() (*telemetry.KiteOpt, error) {
	if len(s.msgs) == 0 {
		return nil, s.err
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func circle(iters int32) *telemetry.KiteOpt {
	msg := &telemetry.KiteOpt{
		Iters:      iters,
		Stage:      1,
		EndTime:    4,
		StateNames: []string{"x", "y", "z"},
		ParamNames: []string{"gamma_homotopy"},
	}
	pts := [][3]float64{{60, 0, 20}, {60, 10, 30}, {60, 0, 40}, {60, -10, 30}}
	for _, p := range pts {
		p := p
		msg.States = append(msg.States, telemetry.KiteState{X: p[:], P: []float64{0.5}})
	}
	return msg
}

func step(t *testing.T, m Model, cmd tea.Cmd) (Model, tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	next, cmd := m.Update(cmd())
	return next.(Model), cmd
}

func TestWatchReceives(t *testing.T) {
	src := &stubSource{msgs: []*telemetry.KiteOpt{circle(1), circle(2)}, err: errors.New("closed")}
	m := NewModel(src, "tcp://localhost:5563")

	if !strings.Contains(m.View(), "waiting") {
		t.Error("expected waiting screen before first message")
	}

	m, cmd := step(t, m, m.Init())
	m, cmd = step(t, m, cmd)
	if m.received != 2 || m.last.Iters != 2 {
		t.Errorf("expected 2 messages, last iteration 2; got %d, %d", m.received, m.last.Iters)
	}
	if len(m.altitude) != 2 || m.altitude[1] != 40 {
		t.Errorf("unexpected altitude history %v", m.altitude)
	}

	view := m.View()
	for _, want := range []string{"Iteration", "downwind", "0.5000"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	m, _ = step(t, m, cmd)
	if m.Err() == nil {
		t.Error("expected receive error to be kept")
	}
}

func TestWatchKeys(t *testing.T) {
	m := NewModel(&stubSource{}, "")
	m.last = circle(1)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("v")})
	m = next.(Model)
	if m.view != viewTop {
		t.Errorf("expected top view, got %d", m.view)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	m = next.(Model)
	if !m.paused {
		t.Fatal("expected paused")
	}
	next, _ = m.Update(kiteMsg{msg: circle(9)})
	m = next.(Model)
	if m.last.Iters != 1 || m.received != 1 {
		t.Errorf("paused model should count but not display new messages: iters %d received %d", m.last.Iters, m.received)
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Error("expected quit command")
	}
}

func TestCanvasPath(t *testing.T) {
	c := NewCanvas(10, 5)
	c.Path([]float64{0, 1, 1, 0}, []float64{0, 0, 1, 1})

	lit := 0
	for _, row := range c.Grid {
		for _, r := range row {
			if r != blank {
				lit++
			}
		}
	}
	if lit == 0 {
		t.Error("expected path to light some cells")
	}

	c.Clear()
	if strings.Trim(c.String(), string(rune(blank))+"\n") != "" {
		t.Error("expected blank canvas after clear")
	}
}
