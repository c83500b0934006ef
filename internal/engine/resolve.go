package engine

import (
	"fable/internal/chat"
	"fable/internal/tracker"
)

// stateSource tags which resolver produced a record.
type stateSource int

const (
	sourceNone stateSource = iota
	sourceLedger
	sourceParse
	sourceImport
	sourceInherit
)

// resolver attempts one resolution strategy for a message; nil means fall
// through to the next. Failure inside a resolver is always silent.
type resolver struct {
	source stateSource
	fn     func(index int, msg *chat.Message) *tracker.State
}

// resolveFirst runs resolvers in order and short-circuits on the first
// non-empty result.
func resolveFirst(resolvers []resolver, index int, msg *chat.Message) (*tracker.State, stateSource) {
	for _, r := range resolvers {
		if state := r.fn(index, msg); !state.IsEmpty() {
			return state, r.source
		}
	}
	return nil, sourceNone
}

// assistantResolvers is the rendered-event chain for assistant messages:
// reuse, parse own text, import legacy, leave absent.
func (e *Engine) assistantResolvers() []resolver {
	return []resolver{
		{source: sourceLedger, fn: e.resolveLedgered},
		{source: sourceParse, fn: e.resolveParse},
		{source: sourceImport, fn: e.resolveImport},
	}
}

// userResolvers is the rendered-event chain for user messages: reuse, then
// inherit from the nearest predecessor.
func (e *Engine) userResolvers() []resolver {
	return []resolver{
		{source: sourceLedger, fn: e.resolveLedgered},
		{source: sourceInherit, fn: e.resolveInherit},
	}
}

func (e *Engine) resolveLedgered(index int, msg *chat.Message) *tracker.State {
	return e.ledger.Get(msg.ID)
}

func (e *Engine) resolveParse(index int, msg *chat.Message) *tracker.State {
	return e.clampProposed(index, tracker.Parse(msg.Text))
}

func (e *Engine) resolveImport(index int, msg *chat.Message) *tracker.State {
	return e.clampProposed(index, tracker.ImportLegacy(msg.Text))
}

// resolveInherit copies the nearest preceding state, nudged forward in
// time by a small random offset so inherited copies keep strictly
// increasing timestamps. The heart is carried over unchanged.
func (e *Engine) resolveInherit(index int, msg *chat.Message) *tracker.State {
	prior := e.ledger.MostRecentBefore(index)
	if prior == nil {
		return nil
	}
	inherited := prior.Clone()
	if inherited.Time != "" {
		inherited.Time = tracker.AdvanceClock(inherited.Time, e.nudgeMinutes())
	}
	return inherited
}

// clampProposed bounds an AI-produced heart value against the previous
// ledgered value. A record without a heart takes the previous value, so
// every stored AI-derived record carries one. The caller holds mu.
func (e *Engine) clampProposed(index int, state *tracker.State) *tracker.State {
	if state.IsEmpty() {
		return nil
	}
	prev := e.previousHeart(index)
	affinity := e.affinity
	clamped := state.Clone()
	clamped.Heart = tracker.HeartValue(tracker.Clamp(state.Heart, prev, affinity.MaxShift(), affinity.Max))
	return clamped
}

// previousHeart finds the clamp baseline: the nearest preceding ledgered
// heart, falling back to the running value. The caller holds mu.
func (e *Engine) previousHeart(index int) *int {
	if prior := e.ledger.MostRecentBefore(index); prior != nil && prior.Heart != nil {
		return prior.Heart
	}
	return tracker.HeartValue(e.heart)
}
