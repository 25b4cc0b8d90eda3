// Package policy decides whether a task may proceed to execution.
//
// Policy is evaluated twice: at the approval gate, where it bounds what a
// human decision can allow, and again as an execution pre-flight. Every
// engine MUST be fail-closed: an evaluation error is a deny, never an allow.
package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/tollgate-labs/tollgate/pkg/canonicalize"
	"github.com/tollgate-labs/tollgate/pkg/contracts"
)

// Input is the canonical structured input to a policy evaluation.
type Input struct {
	Action    string           `json:"action"`
	Scores    contracts.Scores `json:"scores"`
	Aggregate float64          `json:"aggregate"`
	DecidedBy string           `json:"decided_by,omitempty"`
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Engine is the pluggable policy contract. Implementations return a deny
// decision on any internal failure rather than an error.
type Engine interface {
	Evaluate(ctx context.Context, in Input) Decision
}

// DecisionHash produces a deterministic hash of a decision and its input,
// suitable for binding into audit records.
func DecisionHash(in Input, d Decision) (string, error) {
	canonical, err := canonicalize.JCS(struct {
		Input    Input    `json:"input"`
		Decision Decision `json:"decision"`
	}{in, d})
	if err != nil {
		return "", fmt.Errorf("policy: decision hash canonicalization failed: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Static is a threshold-based engine with fixed, auditable bounds.
type Static struct {
	// Floor is the minimum aggregate score; below it the task is denied
	// regardless of any human approval.
	Floor float64
	// RiskCap and CostCap bound the individual dimensions.
	RiskCap float64
	CostCap float64
	// AutoExecute is the aggregate at or above which the gate may approve
	// without a human decision.
	AutoExecute float64
}

// NewStatic returns the default static engine.
func NewStatic() *Static {
	return &Static{
		Floor:       0.6,
		RiskCap:     0.4,
		CostCap:     0.4,
		AutoExecute: 0.85,
	}
}

func (s *Static) Evaluate(_ context.Context, in Input) Decision {
	switch {
	case in.Scores.Risk > s.RiskCap:
		return Decision{Reason: fmt.Sprintf("risk %.2f exceeds cap %.2f", in.Scores.Risk, s.RiskCap)}
	case in.Scores.Cost > s.CostCap:
		return Decision{Reason: fmt.Sprintf("cost %.2f exceeds cap %.2f", in.Scores.Cost, s.CostCap)}
	case in.Aggregate < s.Floor:
		return Decision{Reason: fmt.Sprintf("aggregate %.2f below floor %.2f", in.Aggregate, s.Floor)}
	default:
		return Decision{Allow: true, Reason: "within thresholds"}
	}
}

// AutoApprovable reports whether the task scores high enough to skip the
// human decision. It never bypasses the caps.
func (s *Static) AutoApprovable(ctx context.Context, in Input) bool {
	return s.Evaluate(ctx, in).Allow && in.Aggregate >= s.AutoExecute
}
