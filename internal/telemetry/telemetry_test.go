package telemetry

import (
	"context"
	"errors"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/san-kum/kiteopt/internal/ocp"
	"github.com/san-kum/kiteopt/internal/solver"
)

type recordingSender struct {
	mu       sync.Mutex
	payloads [][]byte
	topics   []string
	err      error
	block    chan struct{}
	closed   bool
}

func (s *recordingSender) Send(topic string, payload []byte) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.topics = append(s.topics, topic)
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *recordingSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSender) messages(t *testing.T) []*KiteOpt {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*KiteOpt, len(s.payloads))
	for i, p := range s.payloads {
		m, err := Unmarshal(p)
		if err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		out[i] = m
	}
	return out
}

func TestKiteOptRoundTrip(t *testing.T) {
	msg := &KiteOpt{
		States: []KiteState{
			{X: []float64{1, -2.5}, U: []float64{0.1}, P: []float64{4, 10}},
			{X: []float64{3, 4}, U: []float64{-0.1}, P: []float64{4, 10}},
		},
		EndTime:       4,
		WindSpeed:     10,
		Iters:         17,
		Stage:         2,
		StateNames:    []string{"x", "y"},
		ControlNames:  []string{"aileron"},
		ParamNames:    []string{"endTime", "w0"},
		SchemaVersion: SchemaVersion,
	}

	got, err := Unmarshal(msg.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, msg)
	}

	if v, ok := got.Lookup("aileron", 1); !ok || v != -0.1 {
		t.Errorf("Lookup(aileron, 1) = %f, %v", v, ok)
	}
	if _, ok := got.Lookup("nope", 0); ok {
		t.Error("expected unknown name to miss")
	}
}

func TestUnmarshalCompat(t *testing.T) {
	// unpacked doubles, an unknown field, and a negative iteration count
	var state []byte
	state = protowire.AppendTag(state, fieldX, protowire.Fixed64Type)
	state = protowire.AppendFixed64(state, 0x3ff0000000000000)
	state = protowire.AppendTag(state, 9, protowire.VarintType)
	state = protowire.AppendVarint(state, 99)

	var b []byte
	b = protowire.AppendTag(b, fieldCSS, protowire.BytesType)
	b = protowire.AppendBytes(b, state)
	b = protowire.AppendTag(b, 12, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	iters := int64(-3)
	b = protowire.AppendTag(b, fieldIters, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(iters))

	m, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.States) != 1 || !reflect.DeepEqual(m.States[0].X, []float64{1}) {
		t.Errorf("unexpected states %+v", m.States)
	}
	if m.Iters != -3 {
		t.Errorf("iters = %d, want -3", m.Iters)
	}

	if _, err := Unmarshal([]byte{0x0a, 0x05, 0x01}); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestPublisherDeliversInOrder(t *testing.T) {
	s := &recordingSender{}
	p := NewPublisher(s, "topic", 64, nil)

	for i := 0; i < 10; i++ {
		if !p.Publish((&KiteOpt{Iters: int32(i)}).Marshal()) {
			t.Fatalf("publish %d dropped", i)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	msgs := s.messages(t)
	if len(msgs) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Iters != int32(i) {
			t.Errorf("message %d has iters %d", i, m.Iters)
		}
		if s.topics[i] != "topic" {
			t.Errorf("message %d on topic %q", i, s.topics[i])
		}
	}
	if !s.closed {
		t.Error("sender not closed")
	}
	if st := p.Stats(); st.Sent != 10 || st.Dropped != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
	if p.Publish([]byte{}) {
		t.Error("publish after close accepted")
	}
}

func TestPublisherNeverBlocks(t *testing.T) {
	s := &recordingSender{block: make(chan struct{})}
	p := NewPublisher(s, "topic", 2, nil)

	start := time.Now()
	accepted := 0
	for i := 0; i < 50; i++ {
		if p.Publish([]byte{byte(i)}) {
			accepted++
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("publishing took %v with a stalled sender", elapsed)
	}
	if accepted > 3 {
		t.Errorf("accepted %d payloads with queue size 2", accepted)
	}

	close(s.block)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	st := p.Stats()
	if st.Published != 50 || st.Dropped != uint64(50-accepted) || st.Sent != uint64(accepted) {
		t.Errorf("unexpected stats %+v (accepted %d)", st, accepted)
	}
}

func TestPublisherSwallowsSendErrors(t *testing.T) {
	s := &recordingSender{err: errors.New("no route")}
	p := NewPublisher(s, "topic", 4, nil)

	for i := 0; i < 3; i++ {
		p.Publish([]byte{1})
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if st := p.Stats(); st.Failed+st.Dropped != 3 || st.Sent != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func callbackLayout(t *testing.T, disc ocp.Discretization) *ocp.Layout {
	t.Helper()
	m, err := ocp.NewModel("cb", []string{"x", "y"}, []string{"u"}, []string{ocp.EndTimeParam, "w0"})
	if err != nil {
		t.Fatal(err)
	}
	l, err := ocp.NewLayout(m, disc)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestCallbackSamplesIntervalStarts(t *testing.T) {
	discs := []ocp.Discretization{
		{NK: 4, NICP: 1, Deg: 1},
		{NK: 4, NICP: 3, Deg: 2},
		{NK: 7, NICP: 2, Deg: 4},
	}

	for _, disc := range discs {
		l := callbackLayout(t, disc)
		s := &recordingSender{}
		p := NewPublisher(s, DefaultTopic, 8, nil)
		cb := NewCallback(l, p, CallbackOptions{WindParam: "w0"}, nil)

		x := make([]float64, l.Len())
		for i := range x {
			x[i] = float64(i)
		}
		x[l.ParamSlot(0)] = 4
		x[l.ParamSlot(1)] = 10

		if !cb.Iterate(solver.Iterate{Iteration: 1, X: x}) {
			t.Fatal("callback asked to stop")
		}
		p.Close()

		msgs := s.messages(t)
		if len(msgs) != 1 {
			t.Fatalf("%+v: expected 1 message, got %d", disc, len(msgs))
		}
		m := msgs[0]
		if len(m.States) != disc.NK {
			t.Errorf("%+v: %d records, want %d", disc, len(m.States), disc.NK)
		}
		for k, st := range m.States {
			node := l.IntervalStart(k)
			if st.X[0] != x[l.StateSlot(0, node)] || st.X[1] != x[l.StateSlot(1, node)] {
				t.Errorf("%+v: record %d has x %v", disc, k, st.X)
			}
			if st.U[0] != x[l.ControlSlot(0, k)] {
				t.Errorf("%+v: record %d has u %v", disc, k, st.U)
			}
			if !reflect.DeepEqual(st.P, []float64{4, 10}) {
				t.Errorf("%+v: record %d has p %v", disc, k, st.P)
			}
		}
		if m.EndTime != 4 || m.WindSpeed != 10 || m.Iters != 1 {
			t.Errorf("%+v: metadata end=%f wind=%f iters=%d", disc, m.EndTime, m.WindSpeed, m.Iters)
		}
	}
}

func TestCallbackCounter(t *testing.T) {
	tests := []struct {
		reset bool
		want  []int32
	}{
		{false, []int32{1, 2, 3, 4, 5}},
		{true, []int32{1, 2, 1, 2, 3}},
	}

	for _, tt := range tests {
		l := callbackLayout(t, ocp.Discretization{NK: 2, NICP: 1, Deg: 1})
		s := &recordingSender{}
		p := NewPublisher(s, DefaultTopic, 16, nil)
		cb := NewCallback(l, p, CallbackOptions{ResetPerStage: tt.reset, WindSpeed: 3}, nil)
		x := make([]float64, l.Len())

		cb.BeginStage(0)
		cb.Iterate(solver.Iterate{X: x})
		cb.Iterate(solver.Iterate{X: x})
		cb.BeginStage(1)
		cb.Iterate(solver.Iterate{X: x})
		cb.Iterate(solver.Iterate{X: x})
		cb.Iterate(solver.Iterate{X: x})
		p.Close()

		var got []int32
		for _, m := range s.messages(t) {
			got = append(got, m.Iters)
			if m.WindSpeed != 3 {
				t.Errorf("wind speed %f, want fallback 3", m.WindSpeed)
			}
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("reset=%v: iters %v, want %v", tt.reset, got, tt.want)
		}
	}
}

func TestCallbackContinuesOnFailure(t *testing.T) {
	l := callbackLayout(t, ocp.Discretization{NK: 3, NICP: 1, Deg: 1})
	s := &recordingSender{err: errors.New("broken pipe")}
	p := NewPublisher(s, DefaultTopic, 1, nil)
	cb := NewCallback(l, p, CallbackOptions{}, nil)

	x := make([]float64, l.Len())
	for i := 0; i < 100; i++ {
		if !cb.Iterate(solver.Iterate{X: x}) {
			t.Fatal("callback stopped the solve")
		}
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if cb.Iterations() != 100 {
		t.Errorf("counter at %d, want 100", cb.Iterations())
	}
}

func TestZMQWithoutSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender, err := ListenPUB(ctx, "tcp://127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot bind loopback: %v", err)
	}
	p := NewPublisher(sender, DefaultTopic, 4, nil)
	for i := 0; i < 10; i++ {
		p.Publish((&KiteOpt{Iters: int32(i)}).Marshal())
	}
	if err := p.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if st := p.Stats(); st.Failed != 0 {
		t.Errorf("sends failed without subscriber: %+v", st)
	}
}

func TestZMQRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sender, err := ListenPUB(ctx, "tcp://127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot bind loopback: %v", err)
	}
	defer sender.Close()

	sub, err := DialSUB(ctx, "tcp://"+sender.Addr(), DefaultTopic)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	got := make(chan *KiteOpt, 1)
	go func() {
		m, err := sub.Recv()
		if err == nil {
			got <- m
		}
	}()

	// subscriptions propagate asynchronously, so keep publishing
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case m := <-got:
			if m.Iters != 42 || m.EndTime != 4 {
				t.Errorf("unexpected message %+v", m)
			}
			return
		case <-tick.C:
			if err := sender.Send(DefaultTopic, (&KiteOpt{Iters: 42, EndTime: 4}).Marshal()); err != nil {
				t.Fatalf("send: %v", err)
			}
		case <-ctx.Done():
			t.Fatal("no message received")
		}
	}
}

// protoFields reads "message.field" -> number from the schema file.
func protoFields(t *testing.T, path string) map[string]protowire.Number {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	msgRe := regexp.MustCompile(`^message\s+(\w+)\s*\{`)
	fieldRe := regexp.MustCompile(`^(?:repeated\s+)?\w+\s+(\w+)\s*=\s*(\d+)`)

	fields := make(map[string]protowire.Number)
	msg := ""
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if m := msgRe.FindStringSubmatch(line); m != nil {
			msg = m[1]
			continue
		}
		if line == "}" {
			msg = ""
			continue
		}
		if m := fieldRe.FindStringSubmatch(line); m != nil && msg != "" {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				t.Fatal(err)
			}
			fields[msg+"."+m[1]] = protowire.Number(n)
		}
	}
	return fields
}

func TestFieldNumbersMatchSchema(t *testing.T) {
	want := map[string]protowire.Number{
		"KiteState.x":            fieldX,
		"KiteState.u":            fieldU,
		"KiteState.p":            fieldP,
		"KiteOpt.css":            fieldCSS,
		"KiteOpt.end_time":       fieldEndTime,
		"KiteOpt.wind_speed":     fieldWindSpeed,
		"KiteOpt.iters":          fieldIters,
		"KiteOpt.stage":          fieldStage,
		"KiteOpt.state_names":    fieldStateNames,
		"KiteOpt.control_names":  fieldControlNames,
		"KiteOpt.param_names":    fieldParamNames,
		"KiteOpt.schema_version": fieldSchemaVersion,
	}

	got := protoFields(t, "kite.proto")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("kite.proto fields %v, codec uses %v", got, want)
	}
}
