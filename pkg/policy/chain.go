package policy

import "context"

// Chain evaluates engines in order; the first deny wins. An empty chain
// denies, keeping the fail-closed posture when nothing is configured.
type Chain []Engine

func (c Chain) Evaluate(ctx context.Context, in Input) Decision {
	if len(c) == 0 {
		return Decision{Reason: "no policy engines configured"}
	}
	for _, e := range c {
		if d := e.Evaluate(ctx, in); !d.Allow {
			return d
		}
	}
	return Decision{Allow: true, Reason: "all engines allowed"}
}
