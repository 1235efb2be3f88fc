package event

import (
	"encoding/json"
	"fmt"
)

// RecordType discriminator for trace records
type RecordType int32

const (
	RecordTypeUnknown RecordType = iota
	RecordTypeTickStarted
	RecordTypeSnapshot
	RecordTypeOrdersSubmitted
	RecordTypeOrderRejected
	RecordTypeTrade
	RecordTypeAgentFault
	RecordTypeTurnCompleted
	RecordTypeRunCompleted
	RecordTypeInvariantViolated
)

// Record wraps every entry of the run trace
type Record struct {
	// Run the record belongs to
	RunID string `json:"run_id"`

	// Monotonic per-run sequence assigned by the core
	Sequence int64 `json:"sequence"`

	// Record type discriminator
	Type RecordType `json:"type"`

	// Simulation timestamp (NOT wall-clock)
	Timestamp int64 `json:"timestamp"`

	// Acting agent (nil for tick-level records)
	Agent *AgentID `json:"agent,omitempty"`

	// JSON-encoded record-specific data
	Payload json.RawMessage `json:"payload"`

	// Chain tip after the record's turn; zero outside turn records
	StateHash [32]byte `json:"-"`
}

// AgentRef returns a pointer suitable for Record.Agent.
func AgentRef(id AgentID) *AgentID {
	return &id
}

// Decode unmarshals the payload into v.
func (r Record) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", r.Type, err)
	}
	return nil
}

func (rt RecordType) String() string {
	switch rt {
	case RecordTypeTickStarted:
		return "tick_started"
	case RecordTypeSnapshot:
		return "snapshot"
	case RecordTypeOrdersSubmitted:
		return "orders_submitted"
	case RecordTypeOrderRejected:
		return "order_rejected"
	case RecordTypeTrade:
		return "trade"
	case RecordTypeAgentFault:
		return "agent_fault"
	case RecordTypeTurnCompleted:
		return "turn_completed"
	case RecordTypeRunCompleted:
		return "run_completed"
	case RecordTypeInvariantViolated:
		return "invariant_violated"
	default:
		return "unknown"
	}
}

// ParseRecordType is the inverse of RecordType.String.
func ParseRecordType(s string) RecordType {
	for rt := RecordTypeTickStarted; rt <= RecordTypeInvariantViolated; rt++ {
		if rt.String() == s {
			return rt
		}
	}
	return RecordTypeUnknown
}

func (rt RecordType) MarshalJSON() ([]byte, error) {
	return json.Marshal(rt.String())
}

func (rt *RecordType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*rt = ParseRecordType(s)
	return nil
}
