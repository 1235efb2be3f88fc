package trace

import (
	"MarketSim/internal/event"
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Record delimiters. Text outside a marked region is ignored by ParseFile,
// so the trace can share a stream with other output.
const (
	StartMarker = "__mark"
	EndMarker   = "__end"
)

// fileRecord is the on-disk form of event.Record
type fileRecord struct {
	RunID     string           `json:"run_id"`
	Sequence  int64            `json:"sequence"`
	Type      event.RecordType `json:"type"`
	Timestamp int64            `json:"timestamp"`
	Agent     *event.AgentID   `json:"agent,omitempty"`
	Payload   json.RawMessage  `json:"payload"`
	StateHash string           `json:"state_hash"`
}

// FileSink writes one delimited JSON record per line.
type FileSink struct {
	name   string
	w      *bufio.Writer
	closer io.Closer
}

// OpenFile creates (or truncates) path and returns a sink writing to it.
func OpenFile(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create trace dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	return &FileSink{name: "file:" + path, w: bufio.NewWriter(f), closer: f}, nil
}

// NewWriterSink wraps w. Close flushes but does not close w.
func NewWriterSink(name string, w io.Writer) *FileSink {
	return &FileSink{name: name, w: bufio.NewWriter(w)}
}

func (s *FileSink) Name() string {
	return s.name
}

func (s *FileSink) Write(_ context.Context, records []event.Record) error {
	for _, r := range records {
		data, err := json.Marshal(fileRecord{
			RunID:     r.RunID,
			Sequence:  r.Sequence,
			Type:      r.Type,
			Timestamp: r.Timestamp,
			Agent:     r.Agent,
			Payload:   r.Payload,
			StateHash: hex.EncodeToString(r.StateHash[:]),
		})
		if err != nil {
			return fmt.Errorf("marshal record %d: %w", r.Sequence, err)
		}
		s.w.WriteString(StartMarker)
		s.w.Write(data)
		s.w.WriteString(EndMarker)
		if err := s.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

func (s *FileSink) Close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Parse extracts every delimited record from data, in file order.
func Parse(data []byte) ([]event.Record, error) {
	parts := bytes.Split(data, []byte(StartMarker))
	records := make([]event.Record, 0, len(parts))

	// Skip everything before the first marker
	for i, part := range parts[1:] {
		body, _, found := bytes.Cut(part, []byte(EndMarker))
		if !found {
			return records, fmt.Errorf("record %d: missing %s", i, EndMarker)
		}
		var fr fileRecord
		if err := json.Unmarshal(body, &fr); err != nil {
			return records, fmt.Errorf("record %d: %w", i, err)
		}
		r := event.Record{
			RunID:     fr.RunID,
			Sequence:  fr.Sequence,
			Type:      fr.Type,
			Timestamp: fr.Timestamp,
			Agent:     fr.Agent,
			Payload:   fr.Payload,
		}
		hash, err := hex.DecodeString(fr.StateHash)
		if err != nil || len(hash) != len(r.StateHash) {
			return records, fmt.Errorf("record %d: bad state hash %q", i, fr.StateHash)
		}
		copy(r.StateHash[:], hash)
		records = append(records, r)
	}
	return records, nil
}

// ParseFile reads a trace file written by FileSink.
func ParseFile(path string) ([]event.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
