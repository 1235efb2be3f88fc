package oracle

import (
	"MarketSim/internal/event"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// Oracle supplies fair values and environmental observations. The loop calls
// Advance once per tick before any agent acts.
type Oracle interface {
	Advance(timestamp int64)
	FairValue(product event.Product) float64
	FairValues() map[event.Product]float64
	Observations() map[string]int64
}

// ObservationPrefix keys the rounded fair value of each product in Observations
const ObservationPrefix = "FAIR_"

// DefaultVolTurns is the number of ticks over which Vol applies
const DefaultVolTurns = 100

// ProductSpec configures one product's fair value path.
// Vol is the fractional volatility per VolTurns ticks; zero keeps it constant.
type ProductSpec struct {
	Initial float64 `yaml:"initial" json:"initial"`
	Vol     float64 `yaml:"vol" json:"vol"`
}

type Config struct {
	Products map[event.Product]ProductSpec
	VolTurns int
	Seed     uint64
	Static   map[string]int64
}

// Lognormal moves every non-constant product by a lognormal factor each tick:
// value *= exp(N(0, vol/sqrt(volTurns))).
type Lognormal struct {
	products []event.Product // sorted; fixes RNG draw order
	values   map[event.Product]float64
	sigma    map[event.Product]float64
	static   map[string]int64
	rng      *rand.Rand
	last     int64
	started  bool
}

func NewLognormal(cfg Config) (*Lognormal, error) {
	volTurns := cfg.VolTurns
	if volTurns <= 0 {
		volTurns = DefaultVolTurns
	}

	o := &Lognormal{
		values: make(map[event.Product]float64, len(cfg.Products)),
		sigma:  make(map[event.Product]float64, len(cfg.Products)),
		static: make(map[string]int64, len(cfg.Static)),
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}

	for p, spec := range cfg.Products {
		if spec.Initial <= 0 {
			return nil, fmt.Errorf("oracle: product %s: initial fair value must be positive, got %v", p, spec.Initial)
		}
		if spec.Vol < 0 {
			return nil, fmt.Errorf("oracle: product %s: vol must be non-negative, got %v", p, spec.Vol)
		}
		o.products = append(o.products, p)
		o.values[p] = spec.Initial
		o.sigma[p] = spec.Vol / math.Sqrt(float64(volTurns))
	}
	sort.Strings(o.products)

	for k, v := range cfg.Static {
		o.static[k] = v
	}

	return o, nil
}

// Advance steps every product once per distinct timestamp. The first call
// leaves initial values in place so tick 0 trades against the configured fairs.
// Repeated calls for the same timestamp are no-ops.
func (o *Lognormal) Advance(timestamp int64) {
	if !o.started {
		o.started = true
		o.last = timestamp
		return
	}
	if timestamp == o.last {
		return
	}
	o.last = timestamp

	for _, p := range o.products {
		s := o.sigma[p]
		if s == 0 {
			continue
		}
		o.values[p] *= math.Exp(o.rng.NormFloat64() * s)
	}
}

// FairValue returns zero for products the oracle does not know
func (o *Lognormal) FairValue(product event.Product) float64 {
	return o.values[product]
}

func (o *Lognormal) FairValues() map[event.Product]float64 {
	out := make(map[event.Product]float64, len(o.values))
	for p, v := range o.values {
		out[p] = v
	}
	return out
}

// Observations returns the static observations plus FAIR_<product> rounded to
// the nearest integer.
func (o *Lognormal) Observations() map[string]int64 {
	out := make(map[string]int64, len(o.static)+len(o.values))
	for k, v := range o.static {
		out[k] = v
	}
	for p, v := range o.values {
		out[ObservationPrefix+p] = int64(math.Round(v))
	}
	return out
}

// Constant returns an oracle whose fair values never move
func Constant(values map[event.Product]float64, static map[string]int64) (*Lognormal, error) {
	products := make(map[event.Product]ProductSpec, len(values))
	for p, v := range values {
		products[p] = ProductSpec{Initial: v}
	}
	return NewLognormal(Config{Products: products, Static: static})
}
