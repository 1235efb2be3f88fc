package event

// Payloads carried by trace records. Field names are the JSON contract read back by
// trace.ParseFile and by downstream consumers of the published stream.

type TickStarted struct {
	Tick         int64               `json:"tick"`
	FairValues   map[Product]float64 `json:"fair_values"`
	Observations map[string]int64    `json:"observations"`
}

type OrdersSubmitted struct {
	Intents []OrderIntent `json:"intents"`
}

type OrderRejected struct {
	Intent OrderIntent `json:"intent"`
	Reason string      `json:"reason"`
}

type AgentFault struct {
	Error string `json:"error"`
}

type TurnCompleted struct {
	Accepted  int               `json:"accepted"`
	Rejected  int               `json:"rejected"`
	Trades    int               `json:"trades"`
	Positions map[Product]int64 `json:"positions"`
	StateHash string            `json:"state_hash"`
}

type RunCompleted struct {
	Ticks          int64                         `json:"ticks"`
	FinalPositions map[AgentID]map[Product]int64 `json:"final_positions"`
	StateHash      string                        `json:"state_hash"`
}

type InvariantViolated struct {
	Kind    string  `json:"kind"`
	Product Product `json:"product"`
	Value   int64   `json:"value"`
	Limit   int64   `json:"limit"`
	Detail  string  `json:"detail"`
}
