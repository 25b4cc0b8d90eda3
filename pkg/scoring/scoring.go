// Package scoring provides the evaluation stage's scoring function: a pure,
// deterministic mapping from a task payload to the four scoring dimensions
// and their weighted aggregate. Identical input always yields identical
// output; there is no randomness and no I/O, so a redelivered message
// re-scores to exactly the same artifact content.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/tollgate-labs/tollgate/pkg/contracts"
)

// ErrUnscorable marks a payload the engine has no variant for. It is
// non-retriable: redelivery cannot make the payload scoreable.
var ErrUnscorable = errors.New("payload is not scoreable")

// Result is the outcome of scoring one payload.
type Result struct {
	Scores         contracts.Scores
	AggregateScore float64
	DecisionHint   string
}

// Scorer is the pluggable scoring contract.
type Scorer interface {
	Score(p contracts.Payload) (Result, error)
}

// Weights combines the four dimensions into the aggregate. Risk and cost
// enter inverted: a low-risk, low-cost task scores high.
type Weights struct {
	Feasibility float64
	Alignment   float64
	Risk        float64
	Cost        float64
}

// DefaultWeights is the fixed, auditable weighting used unless overridden.
var DefaultWeights = Weights{
	Feasibility: 0.35,
	Alignment:   0.35,
	Risk:        0.15,
	Cost:        0.15,
}

// hintThreshold separates likely_safe from review_required aggregates.
const hintThreshold = 0.6

// actionProfile holds the per-variant base scores.
type actionProfile struct {
	feasibility float64
	alignment   float64
	cost        float64
}

var actionProfiles = map[string]actionProfile{
	"deploy":      {feasibility: 0.8, alignment: 0.9, cost: 0.3},
	"analysis":    {feasibility: 0.7, alignment: 0.85, cost: 0.4},
	"observation": {feasibility: 0.65, alignment: 0.7, cost: 0.2},
}

var riskByHint = map[string]float64{
	"low":  0.2,
	"high": 0.8,
}

const defaultRisk = 0.5

// Engine is the built-in deterministic scorer.
type Engine struct {
	weights Weights
}

// NewEngine creates an engine with the default weights.
func NewEngine() *Engine {
	return &Engine{weights: DefaultWeights}
}

// NewEngineWithWeights creates an engine with custom weights.
func NewEngineWithWeights(w Weights) *Engine {
	return &Engine{weights: w}
}

// Score maps a payload onto the scoring dimensions and their aggregate.
func (e *Engine) Score(p contracts.Payload) (Result, error) {
	if !p.CanScore() {
		return Result{}, fmt.Errorf("action %q: %w", p.Action, ErrUnscorable)
	}

	profile := actionProfiles[p.Action]
	risk, ok := riskByHint[p.StringParam("risk_hint")]
	if !ok {
		risk = defaultRisk
	}

	scores := contracts.Scores{
		Feasibility: profile.feasibility,
		Alignment:   profile.alignment,
		Risk:        risk,
		Cost:        profile.cost,
	}

	aggregate := e.weights.Feasibility*scores.Feasibility +
		e.weights.Alignment*scores.Alignment +
		e.weights.Risk*(1-scores.Risk) +
		e.weights.Cost*(1-scores.Cost)

	switch p.StringParam("priority") {
	case "high":
		aggregate += 0.05
	case "low":
		aggregate -= 0.05
	}

	aggregate = clamp01(aggregate)
	aggregate = math.Round(aggregate*100) / 100

	hint := contracts.HintReviewRequired
	if aggregate >= hintThreshold {
		hint = contracts.HintLikelySafe
	}

	return Result{
		Scores:         scores,
		AggregateScore: aggregate,
		DecisionHint:   hint,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
