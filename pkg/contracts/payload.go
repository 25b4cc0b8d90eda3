package contracts

import "fmt"

// Payload is the tagged task payload variant. The Action tag selects the
// capability set; Params carry the action-specific structured data.
type Payload struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// actionCaps is the capability-set contract per action variant: whether the
// scoring engine understands it, and whether a runner can perform it.
type actionCaps struct {
	Scoreable  bool
	Executable bool
}

var knownActions = map[string]actionCaps{
	"deploy":      {Scoreable: true, Executable: true},
	"analysis":    {Scoreable: true, Executable: true},
	"observation": {Scoreable: true, Executable: true},
}

// CanScore reports whether the scoring engine has a variant for this action.
func (p Payload) CanScore() bool {
	caps, ok := knownActions[p.Action]
	return ok && caps.Scoreable
}

// CanExecute reports whether a runner can perform this action.
func (p Payload) CanExecute() bool {
	caps, ok := knownActions[p.Action]
	return ok && caps.Executable
}

// Validate checks the payload against the action registry.
func (p Payload) Validate() error {
	if p.Action == "" {
		return fmt.Errorf("payload: missing action")
	}
	if _, ok := knownActions[p.Action]; !ok {
		return fmt.Errorf("payload: unknown action %q", p.Action)
	}
	return nil
}

// StringParam returns a string-typed parameter, or "" when absent.
func (p Payload) StringParam(key string) string {
	v, ok := p.Params[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
