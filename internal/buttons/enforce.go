package buttons

// Enforcer applies the stage allow-list to LLM-suggested buttons.
type Enforcer struct {
	catalog func() map[string]StageRule
}

// NewEnforcer returns an Enforcer that always reads the current catalog
// from get — typically Store.Catalog, so catalog hot-reloads (see
// watch.go) are picked up without re-wiring the caller.
func NewEnforcer(get func() map[string]StageRule) *Enforcer {
	return &Enforcer{catalog: get}
}

// Enforce filters proposed against stage's allow-list, caps the result at
// 4 buttons (preserving proposed order), renumbers Order to a contiguous
// 1..n permutation, drops buttons with an empty label, and substitutes
// the stage's default buttons if the result is empty and the stage is
// deterministic.
func (e *Enforcer) Enforce(stage string, proposed []Button) []Button {
	rule, ok := e.catalog()[stage]
	if !ok {
		return nil
	}

	allowed := make(map[string]struct{}, len(rule.AllowedTokens))
	for _, t := range rule.AllowedTokens {
		allowed[t] = struct{}{}
	}

	var kept []Button
	for _, b := range proposed {
		if b.Label == "" {
			continue
		}
		if _, ok := allowed[b.Token]; !ok {
			continue
		}
		kept = append(kept, b)
		if len(kept) == maxButtonsPerTurn {
			break
		}
	}

	if len(kept) == 0 && rule.Type == Deterministic {
		kept = append(kept, rule.DefaultButtons...)
	}

	for i := range kept {
		kept[i].Order = i + 1
	}
	return kept
}

// Defaults returns the stage's default buttons, renumbered, for callers
// that never had LLM-proposed buttons to begin with (plain deterministic
// replies).
func (e *Enforcer) Defaults(stage string) []Button {
	rule, ok := e.catalog()[stage]
	if !ok {
		return nil
	}
	out := make([]Button, len(rule.DefaultButtons))
	copy(out, rule.DefaultButtons)
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

// AllowedTokens reports the raw allow-list for stage, for callers (e.g.
// the classifier/step-gen prompt builders) that need to tell the model
// what tokens it's permitted to suggest.
func (e *Enforcer) AllowedTokens(stage string) []string {
	rule, ok := e.catalog()[stage]
	if !ok {
		return nil
	}
	out := make([]string, len(rule.AllowedTokens))
	copy(out, rule.AllowedTokens)
	return out
}
