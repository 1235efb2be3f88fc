package trace_test

import (
	"MarketSim/internal/event"
	"MarketSim/internal/observability"
	"MarketSim/internal/testutil"
	"MarketSim/internal/trace"
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// --- Test helpers ---

type memorySink struct {
	mu      sync.Mutex
	records []event.Record
	batches int
	closed  bool
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Write(_ context.Context, records []event.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	m.batches++
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

type failingSink struct{ closed bool }

func (f *failingSink) Name() string { return "failing" }
func (f *failingSink) Write(context.Context, []event.Record) error {
	return errors.New("disk full")
}
func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func goldenRecords() []event.Record {
	second := event.Record{
		RunID:     "golden",
		Sequence:  2,
		Type:      event.RecordTypeTrade,
		Timestamp: 100,
		Agent:     event.AgentRef(1),
		Payload:   []byte(`{"price":10}`),
	}
	second.StateHash[0] = 0xab
	return []event.Record{
		{
			RunID:     "golden",
			Sequence:  1,
			Type:      event.RecordTypeTickStarted,
			Timestamp: 0,
			Payload:   []byte(`{"timestamp":0}`),
		},
		second,
	}
}

// ============================================================================
// Test: FileSink
// ============================================================================

func TestFileSink_Golden(t *testing.T) {
	var buf bytes.Buffer
	sink := trace.NewWriterSink("buffer", &buf)
	if err := sink.Write(context.Background(), goldenRecords()); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	testutil.AssertGolden(t, "trace.golden", buf.Bytes())
}

func TestParse_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "trace.log")
	sink, err := trace.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := goldenRecords()
	if err := sink.Write(context.Background(), want); err != nil {
		t.Fatal(err)
	}
	sink.Close()

	got, err := trace.ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("records: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Sequence != want[i].Sequence || got[i].Type != want[i].Type {
			t.Errorf("record %d: got %d/%s, want %d/%s", i, got[i].Sequence, got[i].Type, want[i].Sequence, want[i].Type)
		}
		if got[i].StateHash != want[i].StateHash {
			t.Errorf("record %d: state hash mismatch", i)
		}
	}
	if got[1].Agent == nil || *got[1].Agent != 1 {
		t.Errorf("agent: got %v, want 1", got[1].Agent)
	}
	if got[0].Agent != nil {
		t.Errorf("tick record agent: got %v, want nil", *got[0].Agent)
	}
}

func TestParse_IgnoresSurroundingText(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("Time: 0\nBooks:\n")
	sink := trace.NewWriterSink("buffer", &buf)
	sink.Write(context.Background(), goldenRecords()[:1])
	sink.Close()
	buf.WriteString("Final positions:\n")

	got, err := trace.Parse(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Type != event.RecordTypeTickStarted {
		t.Errorf("got %+v", got)
	}
}

func TestParse_Truncated(t *testing.T) {
	if _, err := trace.Parse([]byte(`__mark{"run_id":"x"`)); err == nil {
		t.Error("expected error for record without end marker")
	}
}

// ============================================================================
// Test: Dispatcher
// ============================================================================

func TestDispatcher_DeliversInOrder(t *testing.T) {
	input := make(chan event.Record, 16)
	mem := &memorySink{}
	bad := &failingSink{}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	d := trace.NewDispatcher(input, []trace.Sink{mem, bad}, 2, time.Hour, metrics, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	for i := int64(1); i <= 5; i++ {
		input <- event.Record{RunID: "r", Sequence: i, Type: event.RecordTypeTrade}
	}
	close(input)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not exit after input closed")
	}

	if len(mem.records) != 5 {
		t.Fatalf("records: got %d, want 5", len(mem.records))
	}
	for i, r := range mem.records {
		if r.Sequence != int64(i+1) {
			t.Errorf("record %d: got sequence %d", i, r.Sequence)
		}
	}
	// Two full batches plus the remainder on close
	if mem.batches != 3 {
		t.Errorf("batches: got %d, want 3", mem.batches)
	}
	if !mem.closed || !bad.closed {
		t.Error("sinks not closed")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var written, failed float64
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch mf.GetName() {
			case "marketsim_trace_records_written_total":
				written += m.GetCounter().GetValue()
			case "marketsim_trace_sink_errors_total":
				failed += m.GetCounter().GetValue()
			}
		}
	}
	if written != 5 {
		t.Errorf("written: got %v, want 5", written)
	}
	if failed != 3 {
		t.Errorf("sink errors: got %v, want 3", failed)
	}
}

func TestDispatcher_FlushesOnTimer(t *testing.T) {
	input := make(chan event.Record, 4)
	mem := &memorySink{}
	d := trace.NewDispatcher(input, []trace.Sink{mem}, 100, 10*time.Millisecond, nil, zerolog.Nop())

	go d.Run(context.Background())
	defer close(input)

	input <- event.Record{Sequence: 1}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mem.mu.Lock()
		n := len(mem.records)
		mem.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("record not flushed by timer")
}
