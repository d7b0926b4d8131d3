// Package flow implements the conversation flow engine: an ordered list
// of sections, each with the information it must elicit, bounded
// re-prompting, and context carry-over from recent completed calls.  The
// engine decides what to ask and when to advance; the wording of each
// prompt is delegated to the dialogue collaborator with a canned fallback,
// which keeps the flow deterministic and testable.
package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"postop-checkin/internal/llm"
	"postop-checkin/internal/risk"
	"postop-checkin/pkg"

	"go.uber.org/zap"
)

// State is the serializable per-call flow position.  It is persisted on
// the session row after every turn so a process restart resumes exactly
// where the conversation left off.
type State struct {
	CallType  pkg.CallType      `json:"call_type"`
	Completed []string          `json:"completed,omitempty"`
	Slots     map[string]string `json:"slots,omitempty"`
	CarryOver map[string]string `json:"carry_over,omitempty"`
	Reprompts int               `json:"reprompts"`
	Turns     int               `json:"turns"`
	Done      bool              `json:"done"`
}

// Step is the engine's answer for one turn: either the next prompt to
// speak, or a termination signal with the final words to say before
// hanging up.
type Step struct {
	Prompt    string
	Terminate bool
}

// Engine drives the section list.  One Engine serves all calls; all
// per-call state lives in State.
type Engine struct {
	sections   []Section
	gen        llm.Client
	genTimeout time.Duration
	maxTurns   int
	logger     *zap.Logger
}

// NewEngine constructs a flow engine over the default section list.
func NewEngine(gen llm.Client, genTimeout time.Duration, logger *zap.Logger) *Engine {
	sections := DefaultSections()
	// Upper bound on turns: every section fully re-prompted, plus slack
	// for the greeting exchange.  Guarantees termination even on entirely
	// uninformative answers.
	maxTurns := 2
	for _, s := range sections {
		maxTurns += 1 + s.MaxReprompts
	}
	return &Engine{
		sections:   sections,
		gen:        gen,
		genTimeout: genTimeout,
		maxTurns:   maxTurns,
		logger:     logger,
	}
}

// NewState builds the initial flow state for a call.  recent should hold
// the patient's most recent completed sessions (up to two); slots they
// already collected become carry-over so baseline questions are skipped.
func (e *Engine) NewState(callType pkg.CallType, recent []pkg.CallSession) *State {
	carry := make(map[string]string)
	for _, s := range recent {
		if s.AgentNotes == nil {
			continue
		}
		for k, v := range s.AgentNotes.Collected {
			if _, ok := carry[k]; !ok {
				carry[k] = v
			}
		}
	}
	return &State{
		CallType:  callType,
		Slots:     make(map[string]string),
		CarryOver: carry,
	}
}

// Greeting returns the opening prompt for a call, tailored to whether the
// patient has completed check-ins before.
func (e *Engine) Greeting(ctx context.Context, st *State, hadPriorCalls bool) string {
	canned := GreetingFirst
	if hadPriorCalls {
		canned = GreetingReturning
	}
	first := e.firstPending(st)
	if first < 0 {
		return canned + Closing
	}
	return canned + e.compose(ctx, e.sections[first], e.sections[first].Prompt)
}

// Next advances the flow by one patient turn.  The assessment carries the
// entities the risk assessor extracted from the same utterance, which the
// engine reuses for slot filling.  Next never stalls: a section advances
// when its required slots are filled or its re-prompt budget is spent.
func (e *Engine) Next(ctx context.Context, st *State, utterance string, a pkg.Assessment) Step {
	if st.Done {
		return Step{Prompt: Closing, Terminate: true}
	}
	st.Turns++

	if wantsToEnd(utterance) {
		st.Done = true
		return Step{Prompt: ClosingEarly, Terminate: true}
	}

	idx := e.firstPending(st)
	if idx < 0 {
		st.Done = true
		return Step{Prompt: Closing, Terminate: true}
	}
	section := e.sections[idx]

	// Fill whatever the utterance answers for the current section.
	for _, slot := range section.Required {
		if _, ok := st.Slots[slot]; ok {
			continue
		}
		if v, ok := extractSlot(slot, utterance, a); ok {
			st.Slots[slot] = v
		}
	}

	if e.sectionDone(section, st) || st.Reprompts >= section.MaxReprompts {
		st.Completed = append(st.Completed, section.Name)
		st.Reprompts = 0
		idx = e.firstPending(st)
	} else {
		st.Reprompts++
	}

	if idx < 0 || st.Turns >= e.maxTurns {
		st.Done = true
		return Step{Prompt: Closing, Terminate: true}
	}

	next := e.sections[idx]
	return Step{Prompt: e.compose(ctx, next, next.Prompt)}
}

// Progress reports how many required slots have been filled out of the
// total applicable to this call, for the compliance score.
func (e *Engine) Progress(st *State) (filled, total int) {
	for _, s := range e.sections {
		if !s.applies(st.CallType) || e.skippable(s, st) {
			continue
		}
		for _, slot := range s.Required {
			total++
			if _, ok := st.Slots[slot]; ok {
				filled++
			}
		}
	}
	return filled, total
}

// firstPending returns the index of the first applicable, uncompleted
// section, or -1 when the flow is exhausted.  Completed sections are never
// revisited.
func (e *Engine) firstPending(st *State) int {
	done := make(map[string]bool, len(st.Completed))
	for _, name := range st.Completed {
		done[name] = true
	}
	for i, s := range e.sections {
		if done[s.Name] || !s.applies(st.CallType) || e.skippable(s, st) {
			continue
		}
		return i
	}
	return -1
}

func (e *Engine) skippable(s Section, st *State) bool {
	if !s.SkipIfKnown || len(st.CarryOver) == 0 {
		return false
	}
	for _, slot := range s.Required {
		if _, ok := st.CarryOver[slot]; !ok {
			return false
		}
	}
	return true
}

func (e *Engine) sectionDone(s Section, st *State) bool {
	for _, slot := range s.Required {
		if _, ok := st.Slots[slot]; !ok {
			return false
		}
	}
	return true
}

// compose asks the dialogue collaborator to word the prompt for a
// section.  Any timeout or failure falls back to the canned text, so the
// flow always has something safe to say.
func (e *Engine) compose(ctx context.Context, s Section, canned string) string {
	out := llm.ChatBounded(ctx, e.gen, e.genTimeout, []llm.Message{
		{Role: "system", Content: wordingSystemPrompt},
		{Role: "user", Content: "Question to ask: " + s.Goal},
	})
	switch out.Kind {
	case llm.OutcomeOK:
		if strings.TrimSpace(out.Text) != "" {
			return out.Text
		}
		return canned
	case llm.OutcomeTimeout:
		e.logger.Warn("dialogue generator timed out, using canned prompt",
			zap.String("section", s.Name))
		return canned
	default:
		e.logger.Warn("dialogue generator failed, using canned prompt",
			zap.String("section", s.Name), zap.Error(out.Err))
		return canned
	}
}

func (s Section) applies(t pkg.CallType) bool {
	if len(s.AppliesTo) == 0 {
		return true
	}
	for _, ct := range s.AppliesTo {
		if ct == t {
			return true
		}
	}
	return false
}

var endPhrases = []string{
	"goodbye", "good bye", "hang up", "stop calling", "don't call",
	"i have to go", "i need to go", "not a good time", "call back later",
}

func wantsToEnd(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, p := range endPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var yesWords = map[string]bool{"yes": true, "yeah": true, "yep": true, "sure": true, "definitely": true, "absolutely": true}
var noWords = map[string]bool{"no": true, "nope": true, "nah": true}

// yesNo looks for a standalone yes/no word so "no" never matches inside
// "normal" or "know".
func yesNo(lower string) (string, bool) {
	if strings.Contains(lower, "not yet") || strings.Contains(lower, "haven't") {
		return "no", true
	}
	for _, f := range strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		if noWords[f] {
			return "no", true
		}
		if yesWords[f] {
			return "yes", true
		}
	}
	return "", false
}

func containsAny(lower string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// extractSlot decides whether the utterance answers the given slot.  Pain
// and wound findings reuse the risk assessor's entity extraction; the
// remaining slots accept a topical keyword or a plain yes/no.
func extractSlot(slot, utterance string, a pkg.Assessment) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(utterance))
	if lower == "" {
		return "", false
	}
	switch slot {
	case SlotPainLevel:
		if a.PainLevel != nil {
			return strconv.Itoa(*a.PainLevel), true
		}
		if containsAny(lower, "no pain", "doesn't hurt", "does not hurt", "pain free") {
			return "0", true
		}
	case SlotIncisionState:
		woundSymptoms := []string{
			risk.SymptomRedness, risk.SymptomWarmth, risk.SymptomSwelling,
			risk.SymptomDischarge, risk.SymptomBleeding,
		}
		var found []string
		for _, sym := range a.Symptoms {
			for _, w := range woundSymptoms {
				if sym == w {
					found = append(found, sym)
				}
			}
		}
		if len(found) > 0 {
			return strings.Join(found, ", "), true
		}
		if containsAny(lower, "incision", "wound", "site", "dressing", "bandage",
			"clean", "dry", "healing", "fine", "normal", "looks good", "okay", "ok") {
			return "no concerning findings reported", true
		}
	case SlotGeneralCondition:
		// Any substantive answer counts; the risk assessor has already
		// inspected it for red flags.
		if len(strings.Fields(lower)) >= 2 || containsAny(lower, "fine", "good", "okay", "ok", "bad", "tired", "sore") {
			return summarize(utterance), true
		}
	case SlotMedications:
		if containsAny(lower, "medication", "medicine", "pill", "tablet", "dose",
			"taking", "took", "prescription", "painkiller", "antibiotic") {
			return summarize(utterance), true
		}
		if v, ok := yesNo(lower); ok {
			return v, true
		}
	case SlotMobility:
		if containsAny(lower, "walk", "walking", "stairs", "steps", "stand",
			"moving", "move around", "exercise", "physical therapy", "walker", "cane") {
			return summarize(utterance), true
		}
		if v, ok := yesNo(lower); ok {
			return v, true
		}
	case SlotLogistics:
		if containsAny(lower, "ride", "drive", "driving", "transport", "arranged",
			"ready", "prepared", "fasting", "instructions") {
			return summarize(utterance), true
		}
		if v, ok := yesNo(lower); ok {
			return v, true
		}
	}
	return "", false
}

// summarize truncates an utterance for storage in the collected-slots map.
func summarize(utterance string) string {
	s := strings.TrimSpace(utterance)
	if r := []rune(s); len(r) > 120 {
		return fmt.Sprintf("%s…", string(r[:119]))
	}
	return s
}
