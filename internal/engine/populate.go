package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fable/internal/chat"
	"fable/internal/llm"
	"fable/internal/tracker"
)

// Progress reports bulk-population headway: done counts messages whose
// resolution finished (successfully or not) out of total.
type Progress func(done, total int)

// Regenerate asks the generation capability for a fresh record for one
// message, anchored on the previous ledgered state. User-authored messages
// keep their heart hard-locked to the previous value: only the counterpart
// character's replies legitimately drive the meter.
func (e *Engine) Regenerate(ctx context.Context, index int) error {
	e.mu.Lock()
	if e.populating {
		e.mu.Unlock()
		return ErrPopulateBusy
	}
	msg := e.message(index)
	if msg == nil {
		active := e.active
		e.mu.Unlock()
		if active == nil {
			return ErrNoChat
		}
		return ErrIndexOutOfRange
	}
	e.mu.Unlock()

	state, err := e.generateState(ctx, index, msg)
	if err != nil {
		e.log.Warn("regenerate failed", zap.Int("index", index), zap.Error(err))
		return err
	}
	e.writeState(index, msg, state)
	return nil
}

// PopulateAll retroactively fills state for the whole chat: a sequential
// pass over assistant messages (reuse, parse, import, generate, in that
// order), then a sweep inheriting state into user messages still lacking
// it. Generation calls run strictly sequentially; each one's context
// window and clamp baseline depend on its predecessor's outcome. A second
// request while one run is in flight is refused, not queued, and every
// other mutating operation is refused for the duration, so the message
// sequence is frozen while the pass runs.
func (e *Engine) PopulateAll(ctx context.Context, progress Progress) error {
	e.mu.Lock()
	if e.populating {
		e.mu.Unlock()
		return ErrPopulateBusy
	}
	if e.active == nil {
		e.mu.Unlock()
		return ErrNoChat
	}
	e.populating = true
	msgs := e.active.Messages
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.populating = false
		e.mu.Unlock()
	}()

	total := len(msgs)
	done := 0
	report := func() {
		done++
		if progress != nil {
			progress(done, total)
		}
	}

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := &msgs[i]
		if msg.FromUser {
			continue
		}

		e.mu.Lock()
		state, source := resolveFirst(e.assistantResolvers(), i, msg)
		stored := false
		if state != nil && source != sourceLedger {
			stored = e.storeLocked(i, msg, state)
		}
		e.mu.Unlock()
		if state != nil {
			if stored {
				e.render(i, state)
				e.save()
			}
			report()
			continue
		}

		generated, err := e.generateState(ctx, i, msg)
		if err != nil {
			// An isolated failure leaves this message unresolved and
			// the pass moves on.
			e.log.Warn("populate generation failed", zap.Int("index", i), zap.Error(err))
			report()
			continue
		}
		e.writeState(i, msg, generated)
		report()
	}

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := &msgs[i]
		if !msg.FromUser {
			continue
		}

		e.mu.Lock()
		if e.ledger.Get(msg.ID) != nil {
			e.mu.Unlock()
			report()
			continue
		}
		inherited := e.resolveInherit(i, msg)
		stored := false
		if inherited != nil {
			stored = e.storeLocked(i, msg, inherited)
		}
		e.mu.Unlock()
		if stored {
			e.render(i, inherited)
			e.save()
		}
		report()
	}

	return nil
}

// generateState calls the capability and parses its answer, trying the
// tracker block first and the legacy payload second. The heart is clamped
// against the previous ledgered value, or hard-locked to it for
// user-authored messages. The lock is released around the blocking
// provider call.
func (e *Engine) generateState(ctx context.Context, index int, msg *chat.Message) (*tracker.State, error) {
	e.mu.Lock()
	prompt := e.buildPrompt(index)
	e.mu.Unlock()

	text, err := e.provider.Generate(ctx, &llm.Request{
		Model:  e.model,
		System: promptSystem,
		Prompt: prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	state := tracker.Parse(text)
	if state == nil {
		state = tracker.ImportLegacy(text)
	}
	if state == nil {
		return nil, fmt.Errorf("generate state: %w", llm.ErrEmptyResponse)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if msg.FromUser {
		locked := state.Clone()
		locked.Heart = tracker.HeartValue(*e.previousHeart(index))
		return locked, nil
	}
	return e.clampProposed(index, state), nil
}
