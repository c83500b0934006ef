package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"fable/internal/chat"
	"fable/internal/llm"
	"fable/internal/tracker"
)

type recordingRenderer struct {
	calls []int
}

func (r *recordingRenderer) RenderState(index int, state *tracker.State) {
	r.calls = append(r.calls, index)
}

type recordingSaver struct {
	calls int
}

func (s *recordingSaver) Save() {
	s.calls++
}

func newTestEngine(t *testing.T, provider llm.Provider) (*Engine, *recordingRenderer, *recordingSaver) {
	t.Helper()
	if provider == nil {
		provider = &llm.Mock{}
	}
	renderer := &recordingRenderer{}
	saver := &recordingSaver{}
	e, err := New(Config{
		Provider: provider,
		Model:    "test-model",
		Affinity: tracker.AffinityConfig{Max: 99_999, Sensitivity: 2}, // shift 1000
		Renderer: renderer,
		Saver:    saver,
		Rand:     rand.New(rand.NewPCG(7, 11)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e, renderer, saver
}

func TestNewRequiresProvider(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); !errors.Is(err, ErrProviderRequired) {
		t.Fatalf("New() error = %v, want ErrProviderRequired", err)
	}
}

func TestRenderAssistantParsesOwnText(t *testing.T) {
	t.Parallel()

	e, renderer, saver := newTestEngine(t, nil)
	e.SwitchChat(&chat.Chat{ID: "c"})

	idx, err := e.AddMessage(chat.NewMessage(false, "Hello!\n[TRACKER]\ntime: 9:00 AM\nlocation: Kitchen\nheart: 500\n[/TRACKER]"))
	if err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}

	state := e.State(idx)
	if state == nil || state.Location != "Kitchen" {
		t.Fatalf("State() = %#v, want parsed record", state)
	}
	if state.Heart == nil || *state.Heart != 500 {
		t.Fatalf("heart = %v, want 500 (within shift of 0)", state.Heart)
	}
	if e.Heart() != 500 {
		t.Fatalf("running heart = %d, want 500", e.Heart())
	}
	if len(renderer.calls) == 0 || renderer.calls[len(renderer.calls)-1] != idx {
		t.Fatalf("renderer calls = %v, want trailing %d", renderer.calls, idx)
	}
	if saver.calls == 0 {
		t.Fatal("saver never invoked after ledger mutation")
	}
}

func TestRenderAssistantClampsHeartAgainstPredecessor(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t, nil)
	e.SwitchChat(&chat.Chat{ID: "c"})

	mustAdd(t, e, chat.NewMessage(false, "[TRACKER]\nheart: 1000\ntime: Noon\n[/TRACKER]"))
	idx := mustAdd(t, e, chat.NewMessage(false, "[TRACKER]\nheart: 90000\ntime: Noon\n[/TRACKER]"))

	state := e.State(idx)
	if state.Heart == nil || *state.Heart != 2000 {
		t.Fatalf("heart = %v, want clamped to 2000", state.Heart)
	}
}

func TestRenderAssistantFallsBackToLegacyImport(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t, nil)
	e.SwitchChat(&chat.Chat{ID: "c"})

	idx := mustAdd(t, e, chat.NewMessage(false, `He nodded. <scene>{"Location": "Library", "Heart": 300}</scene>`))

	state := e.State(idx)
	if state == nil || state.Location != "Library" {
		t.Fatalf("State() = %#v, want imported record", state)
	}
	if state.Heart == nil || *state.Heart != 300 {
		t.Fatalf("heart = %v, want 300", state.Heart)
	}
}

func TestRenderAssistantWithoutBlockLeftAbsent(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t, nil)
	e.SwitchChat(&chat.Chat{ID: "c"})

	idx := mustAdd(t, e, chat.NewMessage(false, "Just prose, nothing else."))
	if state := e.State(idx); state != nil {
		t.Fatalf("State() = %#v, want absent", state)
	}
}

func TestRenderUserInheritsWithForwardNudge(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t, nil)
	e.SwitchChat(&chat.Chat{ID: "c"})

	mustAdd(t, e, chat.NewMessage(false, "[TRACKER]\ntime: 9:58 PM; 5/1/2040 (Tuesday)\nlocation: Rooftop\nheart: 700\n[/TRACKER]"))
	idx := mustAdd(t, e, chat.NewMessage(true, "It's beautiful up here."))

	state := e.State(idx)
	if state == nil {
		t.Fatal("State() = nil, want inherited record")
	}
	if state.Location != "Rooftop" {
		t.Fatalf("location = %q, want inherited Rooftop", state.Location)
	}
	if state.Heart == nil || *state.Heart != 700 {
		t.Fatalf("heart = %v, want inherited 700", state.Heart)
	}
	want := map[string]bool{
		"9:59 PM; 5/1/2040 (Tuesday)":  true,
		"10:00 PM; 5/1/2040 (Tuesday)": true,
		"10:01 PM; 5/1/2040 (Tuesday)": true,
	}
	if !want[state.Time] {
		t.Fatalf("time = %q, want 1-3 minutes past 9:58 PM with suffix intact", state.Time)
	}
}

func TestRenderUserWithoutPredecessorLeftAbsent(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t, nil)
	e.SwitchChat(&chat.Chat{ID: "c"})

	idx := mustAdd(t, e, chat.NewMessage(true, "Hi."))
	if state := e.State(idx); state != nil {
		t.Fatalf("State() = %#v, want absent", state)
	}
}

func TestApplyEditRangeBoundOnly(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t, nil)
	e.SwitchChat(&chat.Chat{ID: "c"})

	idx := mustAdd(t, e, chat.NewMessage(false, "[TRACKER]\nheart: 100\ntime: Noon\n[/TRACKER]"))

	// A manual correction may jump far beyond the per-step shift.
	err := e.ApplyEdit(idx, &tracker.State{Time: "Noon", Heart: tracker.HeartValue(50_000)})
	if err != nil {
		t.Fatalf("ApplyEdit() error = %v", err)
	}
	if state := e.State(idx); state.Heart == nil || *state.Heart != 50_000 {
		t.Fatalf("heart = %v, want 50000 unclamped by shift", state.Heart)
	}

	// But never outside the absolute range.
	if err := e.ApplyEdit(idx, &tracker.State{Time: "Noon", Heart: tracker.HeartValue(500_000)}); err != nil {
		t.Fatalf("ApplyEdit() error = %v", err)
	}
	if state := e.State(idx); *state.Heart != 99_999 {
		t.Fatalf("heart = %d, want range-clamped 99999", *state.Heart)
	}
}

func TestApplyEditRejectsEmptyRecord(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t, nil)
	e.SwitchChat(&chat.Chat{ID: "c"})
	idx := mustAdd(t, e, chat.NewMessage(false, "hi"))

	if err := e.ApplyEdit(idx, &tracker.State{}); !errors.Is(err, ErrNoInformation) {
		t.Fatalf("ApplyEdit(empty) error = %v, want ErrNoInformation", err)
	}
	if err := e.ApplyEdit(99, &tracker.State{Time: "Noon"}); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("ApplyEdit(99) error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestClearStateDropsRecordAndSideChannel(t *testing.T) {
	t.Parallel()

	e, renderer, saver := newTestEngine(t, nil)
	e.SwitchChat(&chat.Chat{ID: "c"})
	idx := mustAdd(t, e, chat.NewMessage(false, "[TRACKER]\ntime: Noon\nheart: 400\n[/TRACKER]"))

	renderer.calls = nil
	before := saver.calls
	if err := e.ClearState(idx); err != nil {
		t.Fatalf("ClearState() error = %v", err)
	}

	if got := e.State(idx); got != nil {
		t.Fatalf("State() = %#v after clear, want nil", got)
	}
	if got := e.Chat().Messages[idx].TrackerState(); got != nil {
		t.Fatalf("side-channel state = %#v after clear, want nil", got)
	}
	if len(renderer.calls) != 1 || renderer.calls[0] != idx {
		t.Fatalf("renderer calls = %v, want single clear render", renderer.calls)
	}
	if saver.calls != before+1 {
		t.Fatalf("saver calls = %d, want %d", saver.calls, before+1)
	}
	if err := e.ClearState(9); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("ClearState(9) error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestHandleDeleteRerendersSurvivors(t *testing.T) {
	t.Parallel()

	e, renderer, _ := newTestEngine(t, nil)
	e.SwitchChat(&chat.Chat{ID: "c"})

	mustAdd(t, e, chat.NewMessage(false, "[TRACKER]\ntime: 9:00 AM\n[/TRACKER]"))
	mustAdd(t, e, chat.NewMessage(false, "[TRACKER]\ntime: 9:10 AM\n[/TRACKER]"))
	mustAdd(t, e, chat.NewMessage(false, "[TRACKER]\ntime: 9:20 AM\n[/TRACKER]"))

	renderer.calls = nil
	if err := e.HandleDelete(1); err != nil {
		t.Fatalf("HandleDelete() error = %v", err)
	}

	if got := e.State(1); got == nil || got.Time != "9:20 AM" {
		t.Fatalf("State(1) = %#v, want shifted 9:20 AM", got)
	}
	if len(renderer.calls) != 2 {
		t.Fatalf("renderer calls = %v, want both survivors re-rendered", renderer.calls)
	}
	if err := e.HandleDelete(9); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("HandleDelete(9) error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestSwitchChatSeedsFromSideChannels(t *testing.T) {
	t.Parallel()

	e, renderer, _ := newTestEngine(t, nil)

	c := &chat.Chat{ID: "loaded"}
	first := chat.NewMessage(false, "hello")
	if err := first.SetTrackerState(&tracker.State{Time: "8:00 PM", Heart: tracker.HeartValue(4_000)}); err != nil {
		t.Fatalf("SetTrackerState() error = %v", err)
	}
	second := chat.NewMessage(true, "hi")
	c.Append(first)
	c.Append(second)

	e.SwitchChat(c)

	if e.Heart() != 4_000 {
		t.Fatalf("running heart = %d, want re-seated 4000", e.Heart())
	}
	if state := e.State(0); state == nil || state.Time != "8:00 PM" {
		t.Fatalf("State(0) = %#v, want side-channel record", state)
	}
	if len(renderer.calls) == 0 {
		t.Fatal("ledgered entries were not re-rendered on switch")
	}

	// Switching again clears everything.
	e.SwitchChat(&chat.Chat{ID: "fresh"})
	if e.Heart() != 0 {
		t.Fatalf("running heart = %d, want reset", e.Heart())
	}
}

func TestAddMessageWithoutChat(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t, nil)
	if _, err := e.AddMessage(chat.NewMessage(true, "hi")); !errors.Is(err, ErrNoChat) {
		t.Fatalf("AddMessage() error = %v, want ErrNoChat", err)
	}
}

func TestRegenerateParsesResponseAndClamps(t *testing.T) {
	t.Parallel()

	mock := &llm.Mock{Responses: []string{"[TRACKER]\ntime: 9:10 PM\nheart: 77777\n[/TRACKER]"}}
	e, _, _ := newTestEngine(t, mock)
	e.SwitchChat(&chat.Chat{ID: "c"})

	mustAdd(t, e, chat.NewMessage(false, "[TRACKER]\ntime: 9:00 PM\nheart: 1000\n[/TRACKER]"))
	idx := mustAdd(t, e, chat.NewMessage(false, "She laughed."))

	if err := e.Regenerate(context.Background(), idx); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	state := e.State(idx)
	if state == nil || state.Time != "9:10 PM" {
		t.Fatalf("State() = %#v, want generated record", state)
	}
	if state.Heart == nil || *state.Heart != 2_000 {
		t.Fatalf("heart = %v, want clamped to 2000", state.Heart)
	}
	if len(mock.Prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(mock.Prompts))
	}
	prompt := mock.Prompts[0]
	if !strings.Contains(prompt, "Last known state:") || !strings.Contains(prompt, "9:00 PM") {
		t.Fatalf("prompt missing anchor state:\n%s", prompt)
	}
	if !strings.Contains(prompt, tracker.BlockStart) || !strings.Contains(prompt, tracker.LegacyStart) {
		t.Fatalf("prompt missing wire-format instructions:\n%s", prompt)
	}
}

func TestRegenerateUserMessageLocksHeart(t *testing.T) {
	t.Parallel()

	mock := &llm.Mock{Responses: []string{"[TRACKER]\ntime: 9:12 PM\nheart: 9000\n[/TRACKER]"}}
	e, _, _ := newTestEngine(t, mock)
	e.SwitchChat(&chat.Chat{ID: "c"})

	mustAdd(t, e, chat.NewMessage(false, "[TRACKER]\ntime: 9:00 PM\nheart: 1000\n[/TRACKER]"))
	idx := mustAdd(t, e, chat.NewMessage(true, "Me too."))

	if err := e.Regenerate(context.Background(), idx); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	state := e.State(idx)
	if state.Heart == nil || *state.Heart != 1_000 {
		t.Fatalf("heart = %v, want hard-locked 1000", state.Heart)
	}
	if state.Time != "9:12 PM" {
		t.Fatalf("time = %q, want generated 9:12 PM", state.Time)
	}
}

func TestRegenerateFailureLeavesMessageUnresolved(t *testing.T) {
	t.Parallel()

	boom := errors.New("model offline")
	e, _, _ := newTestEngine(t, &llm.Mock{Errs: []error{boom}})
	e.SwitchChat(&chat.Chat{ID: "c"})

	idx := mustAdd(t, e, chat.NewMessage(false, "prose only"))
	if err := e.Regenerate(context.Background(), idx); !errors.Is(err, boom) {
		t.Fatalf("Regenerate() error = %v, want provider failure", err)
	}
	if state := e.State(idx); state != nil {
		t.Fatalf("State() = %#v, want still absent", state)
	}
}

func mustAdd(t *testing.T, e *Engine, msg chat.Message) int {
	t.Helper()
	idx, err := e.AddMessage(msg)
	if err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}
	return idx
}

func TestSwitchChatSeedsConfiguredDefaultHeart(t *testing.T) {
	t.Parallel()

	e, err := New(Config{
		Provider:     &llm.Mock{},
		Affinity:     tracker.AffinityConfig{Max: 99_999, Sensitivity: 2},
		DefaultHeart: 1200,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := e.Heart(); got != 1200 {
		t.Fatalf("Heart() before any chat = %d, want 1200", got)
	}

	if err := e.SwitchChat(&chat.Chat{ID: "empty"}); err != nil {
		t.Fatalf("SwitchChat() error = %v", err)
	}
	if got := e.Heart(); got != 1200 {
		t.Fatalf("Heart() for chat without ledgered heart = %d, want 1200", got)
	}

	// A ledgered heart beats the configured default.
	c := &chat.Chat{ID: "seeded"}
	msg := chat.NewMessage(false, "reply")
	if err := msg.SetTrackerState(&tracker.State{Time: "Noon", Heart: tracker.HeartValue(4000)}); err != nil {
		t.Fatalf("SetTrackerState() error = %v", err)
	}
	c.Append(msg)
	if err := e.SwitchChat(c); err != nil {
		t.Fatalf("SwitchChat() error = %v", err)
	}
	if got := e.Heart(); got != 4000 {
		t.Fatalf("Heart() with ledgered record = %d, want 4000", got)
	}
}

func TestNewClampsDefaultHeartToRange(t *testing.T) {
	t.Parallel()

	e, err := New(Config{
		Provider:     &llm.Mock{},
		Affinity:     tracker.AffinityConfig{Max: 5000, Sensitivity: 2},
		DefaultHeart: 9000,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := e.Heart(); got != 5000 {
		t.Fatalf("Heart() = %d, want clamped to 5000", got)
	}

	e, err = New(Config{
		Provider:     &llm.Mock{},
		Affinity:     tracker.AffinityConfig{Max: 5000, Sensitivity: 2},
		DefaultHeart: -10,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := e.Heart(); got != 0 {
		t.Fatalf("Heart() = %d, want clamped to 0", got)
	}
}
