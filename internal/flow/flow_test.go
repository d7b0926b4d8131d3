package flow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"postop-checkin/internal/llm"
	"postop-checkin/internal/risk"
	"postop-checkin/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubGen is a dialogue collaborator with a fixed answer or a fixed error.
// An erroring stub forces the engine onto its canned prompts, which makes
// the expected wording deterministic.
type stubGen struct {
	text string
	err  error
}

func (s stubGen) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return s.text, s.err
}

func (s stubGen) Transcribe(ctx context.Context, audioURL string) (llm.Transcript, error) {
	return llm.Transcript{}, errors.New("not a transcriber")
}

func cannedEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(stubGen{err: errors.New("unavailable")}, 10*time.Millisecond, zap.NewNop())
}

func step(t *testing.T, e *Engine, st *State, utterance string) Step {
	t.Helper()
	a := risk.Assess(utterance, risk.Context{})
	return e.Next(context.Background(), st, utterance, a)
}

func TestFlow_PreparationCallProgression(t *testing.T) {
	e := cannedEngine(t)
	st := e.NewState(pkg.CallPreparation, nil)

	greeting := e.Greeting(context.Background(), st, false)
	assert.Contains(t, greeting, "feeling overall today")

	out := step(t, e, st, "I'm feeling pretty good, thanks")
	assert.False(t, out.Terminate)
	assert.Contains(t, out.Prompt, "scale from zero to ten")

	out = step(t, e, st, "my pain is about a 2")
	assert.False(t, out.Terminate)
	assert.Contains(t, out.Prompt, "surgical site")

	out = step(t, e, st, "the incision looks clean and dry")
	assert.False(t, out.Terminate)
	assert.Contains(t, out.Prompt, "move around and walk")

	out = step(t, e, st, "yes, I've been walking every day")
	assert.True(t, out.Terminate)
	assert.Equal(t, Closing, out.Prompt)
	assert.True(t, st.Done)

	// A preparation call has four applicable sections; all were answered.
	filled, total := e.Progress(st)
	assert.Equal(t, 4, total)
	assert.Equal(t, 4, filled)
	assert.Equal(t, "2", st.Slots[SlotPainLevel])
}

func TestFlow_CompletedSectionsNeverRevisited(t *testing.T) {
	e := cannedEngine(t)
	st := e.NewState(pkg.CallPreparation, nil)

	step(t, e, st, "feeling fine today")
	step(t, e, st, "pain is a 3")

	// An answer that mentions pain again must not reopen pain_assessment.
	out := step(t, e, st, "well the pain site looks okay to me")
	assert.Contains(t, st.Completed, "pain_assessment")
	assert.NotContains(t, out.Prompt, "scale from zero to ten")
	assert.Equal(t, "3", st.Slots[SlotPainLevel])
}

func TestFlow_BoundedTerminationOnUninformativeAnswers(t *testing.T) {
	e := cannedEngine(t)
	st := e.NewState(pkg.CallEnrollment, nil)

	terminated := false
	for i := 0; i < e.maxTurns+2; i++ {
		out := step(t, e, st, "hmm")
		if out.Terminate {
			terminated = true
			break
		}
	}
	assert.True(t, terminated, "flow must terminate within its turn bound")
	assert.True(t, st.Done)

	// Once done, the engine only ever says goodbye.
	out := step(t, e, st, "hello?")
	assert.True(t, out.Terminate)
}

func TestFlow_RepromptBudgetPerSection(t *testing.T) {
	e := cannedEngine(t)
	st := e.NewState(pkg.CallPreparation, nil)

	// wellbeing allows one re-prompt: the first uninformative answer
	// re-asks, the second moves on.
	out := step(t, e, st, "uh")
	assert.Contains(t, out.Prompt, "feeling overall today")
	out = step(t, e, st, "uh")
	assert.Contains(t, out.Prompt, "scale from zero to ten")
	assert.Contains(t, st.Completed, "wellbeing")
	_, ok := st.Slots[SlotGeneralCondition]
	assert.False(t, ok)
}

func TestFlow_CarryOverSkipsKnownSections(t *testing.T) {
	e := cannedEngine(t)
	recent := []pkg.CallSession{{
		AgentNotes: &pkg.AgentNotes{
			Collected: map[string]string{SlotGeneralCondition: "doing well"},
		},
	}}
	st := e.NewState(pkg.CallPreparation, recent)

	// wellbeing is covered by carry-over, so the greeting goes straight to
	// the pain rating.
	greeting := e.Greeting(context.Background(), st, true)
	assert.Contains(t, greeting, "Hello again")
	assert.Contains(t, greeting, "scale from zero to ten")

	// Skipped sections do not count against the compliance score.
	_, total := e.Progress(st)
	assert.Equal(t, 3, total)
}

func TestFlow_PatientEndsCallEarly(t *testing.T) {
	e := cannedEngine(t)
	st := e.NewState(pkg.CallPreparation, nil)

	out := step(t, e, st, "sorry, I have to go now")
	assert.True(t, out.Terminate)
	assert.Equal(t, ClosingEarly, out.Prompt)
	assert.True(t, st.Done)
}

func TestFlow_GeneratedWordingPreferredOverCanned(t *testing.T) {
	e := NewEngine(stubGen{text: "How are you doing this morning?"}, 10*time.Millisecond, zap.NewNop())
	st := e.NewState(pkg.CallPreparation, nil)

	greeting := e.Greeting(context.Background(), st, false)
	assert.Contains(t, greeting, "How are you doing this morning?")
	assert.NotContains(t, greeting, "feeling overall today")
}

func TestFlow_BlankGenerationFallsBackToCanned(t *testing.T) {
	e := NewEngine(stubGen{text: "   "}, 10*time.Millisecond, zap.NewNop())
	st := e.NewState(pkg.CallPreparation, nil)

	greeting := e.Greeting(context.Background(), st, false)
	assert.Contains(t, greeting, "feeling overall today")
}

func TestFlow_StateSurvivesSerialization(t *testing.T) {
	e := cannedEngine(t)
	st := e.NewState(pkg.CallFinalPrep, nil)
	step(t, e, st, "feeling okay, a bit nervous")
	step(t, e, st, "pain is maybe a 4")

	// Round-trip through JSON the way the session row stores it.
	restored := roundTrip(t, st)
	out := step(t, e, restored, "the incision is clean and healing")
	assert.False(t, out.Terminate)
	assert.Contains(t, out.Prompt, "move around and walk")
	assert.Equal(t, "4", restored.Slots[SlotPainLevel])
}

func roundTrip(t *testing.T, st *State) *State {
	t.Helper()
	data, err := json.Marshal(st)
	require.NoError(t, err)
	var out State
	require.NoError(t, json.Unmarshal(data, &out))
	return &out
}

func TestWantsToEnd(t *testing.T) {
	assert.True(t, wantsToEnd("okay goodbye"))
	assert.True(t, wantsToEnd("this is not a good time"))
	assert.False(t, wantsToEnd("the wound looks good"))
}

func TestYesNo_WordBoundaries(t *testing.T) {
	v, ok := yesNo("everything looks normal to me")
	assert.False(t, ok, "got %q from a sentence with no yes/no", v)

	v, ok = yesNo("no, not really")
	assert.True(t, ok)
	assert.Equal(t, "no", v)

	v, ok = yesNo("yes I have")
	assert.True(t, ok)
	assert.Equal(t, "yes", v)

	v, ok = yesNo("I haven't arranged it yet")
	assert.True(t, ok)
	assert.Equal(t, "no", v)
}

func TestSummarize_TruncatesLongUtterances(t *testing.T) {
	long := strings.Repeat("a", 300)
	got := summarize(long)
	assert.LessOrEqual(t, len([]rune(got)), 120)
	assert.Equal(t, "short answer", summarize("  short answer  "))
}
