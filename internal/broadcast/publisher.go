package broadcast

import (
	"MarketSim/internal/event"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	StreamName    = "MARKETSIM_TRACE"
	SubjectPrefix = "marketsim.trace"
)

// Publisher is the part of jetstream.JetStream the sink needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Message is the JSON body of a published trace record.
type Message struct {
	RunID     string           `json:"run_id"`
	Sequence  int64            `json:"sequence"`
	Type      event.RecordType `json:"type"`
	Timestamp int64            `json:"timestamp"`
	Agent     *event.AgentID   `json:"agent,omitempty"`
	Payload   json.RawMessage  `json:"payload"`
	StateHash string           `json:"state_hash"`
}

// TracePublisher streams trace records to JetStream for live consumers.
// Subjects follow the pattern: marketsim.trace.{run_id}.{record_type}
type TracePublisher struct {
	js  Publisher
	log zerolog.Logger
}

func NewTracePublisher(js Publisher, log zerolog.Logger) *TracePublisher {
	return &TracePublisher{js: js, log: log}
}

func (p *TracePublisher) Name() string {
	return "nats"
}

// Write publishes records in order. Each message carries a run/sequence
// message id so JetStream drops duplicates on redelivery.
func (p *TracePublisher) Write(ctx context.Context, records []event.Record) error {
	for _, r := range records {
		if err := p.publish(ctx, r); err != nil {
			return fmt.Errorf("publish %s/%d: %w", r.RunID, r.Sequence, err)
		}
	}
	return nil
}

func (p *TracePublisher) Close() error {
	return nil
}

func (p *TracePublisher) publish(ctx context.Context, r event.Record) error {
	data, err := json.Marshal(Message{
		RunID:     r.RunID,
		Sequence:  r.Sequence,
		Type:      r.Type,
		Timestamp: r.Timestamp,
		Agent:     r.Agent,
		Payload:   r.Payload,
		StateHash: hex.EncodeToString(r.StateHash[:]),
	})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = p.js.Publish(ctx, Subject(r), data, jetstream.WithMsgID(MsgID(r)))
	return err
}

// Subject returns the publish subject for a record.
func Subject(r event.Record) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, r.RunID, r.Type)
}

func MsgID(r event.Record) string {
	return fmt.Sprintf("%s-%d", r.RunID, r.Sequence)
}

// EnsureTraceStream creates the trace stream.
func EnsureTraceStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create trace stream: %w", err)
	}
	log.Info().Str("stream", StreamName).Msg("ensured trace stream")
	return nil
}

// Connect opens a NATS connection with unlimited reconnects and a JetStream
// context on top of it.
func Connect(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("marketsim"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
