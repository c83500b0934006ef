// Package engine reconciles tracker state across a chat sequence. For
// every lifecycle event it decides whether a message parses its own text,
// imports a legacy payload, inherits from a neighbor, or asks the
// generation capability, and keeps the ledger, the side-channel, and the
// running affinity value consistent while doing so.
package engine

import (
	"errors"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"fable/internal/chat"
	"fable/internal/llm"
	"fable/internal/tracker"
	"fable/internal/tracker/ledger"
)

const (
	defaultNudgeMinMinutes = 1
	defaultNudgeMaxMinutes = 3
	defaultContextWindow   = 6
)

var (
	// ErrProviderRequired indicates a missing generation capability.
	ErrProviderRequired = errors.New("provider is required")
	// ErrPopulateBusy indicates bulk population is already in flight.
	ErrPopulateBusy = errors.New("populate already running")
	// ErrNoChat indicates no chat is active.
	ErrNoChat = errors.New("no active chat")
	// ErrIndexOutOfRange indicates a message index outside the chat.
	ErrIndexOutOfRange = errors.New("message index out of range")
	// ErrNoInformation indicates a record carrying nothing storable.
	ErrNoInformation = errors.New("state carries no information")
)

// Renderer is the rendering collaborator: it receives every ledger
// mutation so the surfaced representation can follow.
type Renderer interface {
	RenderState(index int, state *tracker.State)
}

// Saver is the persistence collaborator; the caller coalesces saves.
type Saver interface {
	Save()
}

// Config wires an Engine.
type Config struct {
	Provider llm.Provider
	Model    string
	Logger   *zap.Logger

	Affinity        tracker.AffinityConfig
	NudgeMinMinutes int
	NudgeMaxMinutes int
	ContextWindow   int

	// DefaultHeart seats the running affinity value for a chat that has
	// no ledgered heart yet.
	DefaultHeart int

	Renderer Renderer
	Saver    Saver

	// Rand overrides the nudge source for deterministic tests.
	Rand *rand.Rand
}

// Engine owns the ledger and the running affinity value for one active
// chat. An internal mutex serializes access to the ledger, the active
// chat, and the running value, so reads stay safe while bulk population
// runs on another goroutine; mutating operations are refused with
// ErrPopulateBusy while a populate pass is in flight. Renderer, Saver,
// and progress callbacks are always invoked with the mutex released.
type Engine struct {
	provider llm.Provider
	model    string
	log      *zap.Logger
	renderer Renderer
	saver    Saver

	nudgeMin      int
	nudgeMax      int
	contextWindow int
	defaultHeart  int

	mu         sync.Mutex
	rng        *rand.Rand
	affinity   tracker.AffinityConfig
	populating bool
	active     *chat.Chat
	ledger     *ledger.Ledger
	heart      int
}

// New creates an engine with explicit dependencies.
func New(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, ErrProviderRequired
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	nudgeMin := cfg.NudgeMinMinutes
	nudgeMax := cfg.NudgeMaxMinutes
	if nudgeMin <= 0 {
		nudgeMin = defaultNudgeMinMinutes
	}
	if nudgeMax < nudgeMin {
		nudgeMax = defaultNudgeMaxMinutes
		if nudgeMax < nudgeMin {
			nudgeMax = nudgeMin
		}
	}

	window := cfg.ContextWindow
	if window <= 0 {
		window = defaultContextWindow
	}

	affinity := cfg.Affinity.Normalize()
	defaultHeart := cfg.DefaultHeart
	if defaultHeart < 0 {
		defaultHeart = 0
	}
	if defaultHeart > affinity.Max {
		defaultHeart = affinity.Max
	}

	return &Engine{
		provider:      cfg.Provider,
		model:         cfg.Model,
		log:           log,
		renderer:      cfg.Renderer,
		saver:         cfg.Saver,
		rng:           cfg.Rand,
		nudgeMin:      nudgeMin,
		nudgeMax:      nudgeMax,
		contextWindow: window,
		defaultHeart:  defaultHeart,
		affinity:      affinity,
		ledger:        ledger.New(),
		heart:         defaultHeart,
	}, nil
}

// Affinity returns the current affinity configuration.
func (e *Engine) Affinity() tracker.AffinityConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.affinity
}

// SetAffinity replaces the affinity configuration; it is read by both the
// heart clamp and prompt construction. Callers persist via the Saver.
func (e *Engine) SetAffinity(cfg tracker.AffinityConfig) {
	e.mu.Lock()
	e.affinity = cfg.Normalize()
	e.mu.Unlock()
	e.save()
}

// Heart returns the running affinity value.
func (e *Engine) Heart() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.heart
}

// Chat returns the active chat, or nil.
func (e *Engine) Chat() *chat.Chat {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// State returns the ledgered state for an ordinal position, or nil.
func (e *Engine) State(index int) *tracker.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.At(index)
}

// SwitchChat makes c the active chat: all surfaced state is cleared, the
// ledger is rebuilt from the message side-channels, the running affinity
// value is re-seated from the new chat's last ledgered heart (or the
// configured default when none exists), and the rendered resolution
// re-runs for every message that already carries an entry.
func (e *Engine) SwitchChat(c *chat.Chat) error {
	e.mu.Lock()
	if e.populating {
		e.mu.Unlock()
		return ErrPopulateBusy
	}
	e.active = c
	e.ledger = ledger.New()
	e.heart = e.defaultHeart
	if c == nil {
		e.mu.Unlock()
		return nil
	}

	e.ledger.Bind(c.MessageIDs())
	for i := range c.Messages {
		if state := c.Messages[i].TrackerState(); state != nil {
			e.ledger.Set(c.Messages[i].ID, state)
		}
	}
	if last := e.ledger.Last(); last != nil && last.Heart != nil {
		e.heart = *last.Heart
	}

	var ledgered []int
	for i := range c.Messages {
		if e.ledger.At(i) != nil {
			ledgered = append(ledgered, i)
		}
	}
	e.mu.Unlock()

	for _, i := range ledgered {
		e.HandleRender(i)
	}
	return nil
}

// AddMessage appends a message to the active chat, binds its position, and
// runs the rendered resolution for it. Returns the new index.
func (e *Engine) AddMessage(msg chat.Message) (int, error) {
	e.mu.Lock()
	if e.populating {
		e.mu.Unlock()
		return 0, ErrPopulateBusy
	}
	if e.active == nil {
		e.mu.Unlock()
		return 0, ErrNoChat
	}
	index := e.active.Append(msg)
	e.ledger.Bind(e.active.MessageIDs())
	e.mu.Unlock()

	e.HandleRender(index)
	return index, nil
}

// HandleRender resolves state for one rendered message: reuse, then parse,
// then legacy import for assistant messages; reuse, then inheritance with
// a forward time nudge for user messages. A message that resolves to
// nothing is left absent.
func (e *Engine) HandleRender(index int) {
	e.mu.Lock()
	if e.populating {
		e.mu.Unlock()
		return
	}
	msg := e.message(index)
	if msg == nil {
		e.mu.Unlock()
		return
	}

	resolvers := e.assistantResolvers()
	if msg.FromUser {
		resolvers = e.userResolvers()
	}

	state, source := resolveFirst(resolvers, index, msg)
	if state == nil {
		e.mu.Unlock()
		e.log.Debug("message left unresolved", zap.Int("index", index))
		return
	}
	if source == sourceLedger {
		e.mu.Unlock()
		// Already ledgered: surface it again, nothing to write.
		e.render(index, state)
		return
	}
	stored := e.storeLocked(index, msg, state)
	e.mu.Unlock()
	if stored {
		e.render(index, state)
		e.save()
	}
}

// ApplyEdit overwrites a message's state with caller-supplied field values
// directly, with no parsing. A human-authored heart correction is subject
// only to the absolute range bound, never the per-step shift.
func (e *Engine) ApplyEdit(index int, state *tracker.State) error {
	e.mu.Lock()
	if e.populating {
		e.mu.Unlock()
		return ErrPopulateBusy
	}
	msg := e.message(index)
	if msg == nil {
		e.mu.Unlock()
		return ErrIndexOutOfRange
	}
	if state.IsEmpty() {
		e.mu.Unlock()
		return ErrNoInformation
	}

	edited := state.Clone()
	edited.Heart = tracker.ClampRange(edited.Heart, e.affinity.Max)
	stored := e.storeLocked(index, msg, edited)
	e.mu.Unlock()
	if stored {
		e.render(index, edited)
		e.save()
	}
	return nil
}

// ClearState drops the stored record for one message: the side-channel
// entry is removed and the position surfaces as absent. The running
// affinity value is untouched.
func (e *Engine) ClearState(index int) error {
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
	if err := msg.SetTrackerState(nil); err != nil {
		e.mu.Unlock()
		return err
	}
	e.ledger.Delete(msg.ID)
	e.mu.Unlock()

	e.render(index, nil)
	e.save()
	return nil
}

// HandleDelete removes the message at index. Remaining ledgered entries
// are re-bound and re-rendered; nothing is re-derived for the shifted
// positions, and the removed message's entry becomes unreachable.
func (e *Engine) HandleDelete(index int) error {
	e.mu.Lock()
	if e.populating {
		e.mu.Unlock()
		return ErrPopulateBusy
	}
	if e.active == nil {
		e.mu.Unlock()
		return ErrNoChat
	}
	if !e.active.Remove(index) {
		e.mu.Unlock()
		return ErrIndexOutOfRange
	}

	e.ledger.Bind(e.active.MessageIDs())
	type survivor struct {
		index int
		state *tracker.State
	}
	var survivors []survivor
	for i := range e.active.Messages {
		if state := e.ledger.At(i); state != nil {
			survivors = append(survivors, survivor{index: i, state: state})
		}
	}
	e.mu.Unlock()

	for _, s := range survivors {
		e.render(s.index, s.state)
	}
	e.save()
	return nil
}

// storeLocked writes a resolved record to the side-channel, the ledger,
// and the running affinity value, in that order. The caller holds mu and
// notifies the collaborators after releasing it; the Saver re-enters the
// engine to read the active chat.
func (e *Engine) storeLocked(index int, msg *chat.Message, state *tracker.State) bool {
	if state.IsEmpty() {
		return false
	}
	if err := msg.SetTrackerState(state); err != nil {
		e.log.Warn("side-channel write failed", zap.Int("index", index), zap.Error(err))
	}
	e.ledger.Set(msg.ID, state)
	if state.Heart != nil {
		e.heart = *state.Heart
	}
	return true
}

// writeState stores a resolved record and notifies the collaborators.
func (e *Engine) writeState(index int, msg *chat.Message, state *tracker.State) {
	e.mu.Lock()
	stored := e.storeLocked(index, msg, state)
	e.mu.Unlock()
	if stored {
		e.render(index, state)
		e.save()
	}
}

func (e *Engine) render(index int, state *tracker.State) {
	if e.renderer != nil {
		e.renderer.RenderState(index, state)
	}
}

func (e *Engine) save() {
	if e.saver != nil {
		e.saver.Save()
	}
}

// message returns the addressed message; the caller holds mu.
func (e *Engine) message(index int) *chat.Message {
	if e.active == nil || index < 0 || index >= len(e.active.Messages) {
		return nil
	}
	return &e.active.Messages[index]
}

// nudgeMinutes picks the random forward offset for inherited timestamps;
// the caller holds mu.
func (e *Engine) nudgeMinutes() int {
	span := e.nudgeMax - e.nudgeMin + 1
	if span <= 1 {
		return e.nudgeMin
	}
	if e.rng != nil {
		return e.nudgeMin + e.rng.IntN(span)
	}
	return e.nudgeMin + rand.IntN(span)
}
