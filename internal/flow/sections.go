package flow

// sections.go defines the conversation sections and their canned prompts.
// The wording generator rephrases these at call time; the canned text is
// the guaranteed fallback, so every section must read well as-is.

import "postop-checkin/pkg"

// Slot names collected by the flow.
const (
	SlotGeneralCondition = "general_condition"
	SlotPainLevel        = "pain_level"
	SlotIncisionState    = "incision_state"
	SlotMedications      = "medications"
	SlotMobility         = "mobility"
	SlotLogistics        = "logistics_confirmed"
)

// Section is one named phase of the structured conversation: the
// information it must elicit, which call types it applies to, and the
// canned prompt used when the wording generator is unavailable.
type Section struct {
	Name   string
	Goal   string
	Prompt string
	// Required lists the slots that must be filled before the section
	// advances.  A section also advances after MaxReprompts re-asks so the
	// flow never stalls on uninformative answers.
	Required     []string
	AppliesTo    []pkg.CallType // empty means all call types
	SkipIfKnown  bool           // skip when carry-over already covers Required
	MaxReprompts int
}

// DefaultSections is the ordered section list for every call.  Sections
// whose AppliesTo does not include the session's call type are skipped;
// completed sections are never revisited.
func DefaultSections() []Section {
	return []Section{
		{
			Name:         "wellbeing",
			Goal:         "ask how the patient is feeling overall today",
			Prompt:       "First, how are you feeling overall today?",
			Required:     []string{SlotGeneralCondition},
			SkipIfKnown:  true,
			MaxReprompts: 1,
		},
		{
			Name:         "pain_assessment",
			Goal:         "get a pain rating on a zero to ten scale",
			Prompt:       "On a scale from zero to ten, how would you rate your pain right now?",
			Required:     []string{SlotPainLevel},
			MaxReprompts: 2,
		},
		{
			Name:   "surgical_site",
			Goal:   "check the surgical site for redness, warmth, swelling or discharge",
			Prompt: "How does the area around your surgical site look? Any redness, warmth, swelling, or discharge?",
			Required: []string{SlotIncisionState},
			AppliesTo: []pkg.CallType{
				pkg.CallEducation, pkg.CallPreparation, pkg.CallFinalPrep,
			},
			MaxReprompts: 2,
		},
		{
			Name:     "medications",
			Goal:     "confirm the patient is taking prescribed medications as directed",
			Prompt:   "Are you taking your medications as prescribed?",
			Required: []string{SlotMedications},
			AppliesTo: []pkg.CallType{
				pkg.CallEnrollment, pkg.CallEducation,
			},
			SkipIfKnown:  true,
			MaxReprompts: 1,
		},
		{
			Name:     "mobility",
			Goal:     "ask whether the patient can move around, walk and manage stairs",
			Prompt:   "Have you been able to move around and walk as recommended?",
			Required: []string{SlotMobility},
			AppliesTo: []pkg.CallType{
				pkg.CallPreparation, pkg.CallFinalPrep,
			},
			MaxReprompts: 1,
		},
		{
			Name:     "logistics",
			Goal:     "confirm practical preparation such as transport and fasting instructions",
			Prompt:   "Do you have everything arranged for your upcoming appointment, like a ride and your instructions?",
			Required: []string{SlotLogistics},
			AppliesTo: []pkg.CallType{
				pkg.CallEnrollment, pkg.CallFinalPrep,
			},
			MaxReprompts: 1,
		},
	}
}

const (
	// GreetingFirst opens a patient's first call of the program.
	GreetingFirst = "Hello! This is the automated check-in call from your surgical care team. " +
		"I have a few quick questions about how you are doing. "

	// GreetingReturning opens a call for a patient with prior completed
	// check-ins.
	GreetingReturning = "Hello again! This is your surgical care team's automated check-in. " +
		"Thanks for taking our call. "

	// Closing thanks the patient and ends the call normally.
	Closing = "Thank you, that's everything I needed today. Your care team will review " +
		"what we discussed. Take care, and goodbye."

	// ClosingEarly ends the call when the patient asks to stop or the
	// duration cap is reached.
	ClosingEarly = "No problem, we can stop here. Your care team will review what we discussed. " +
		"Take care, and goodbye."

	// SilenceReprompt is said after one silent turn before giving the
	// patient a second chance to answer.
	SilenceReprompt = "I'm sorry, I didn't catch that. Could you please repeat your answer?"

	// SilenceGoodbye ends the call gracefully after repeated silence.
	SilenceGoodbye = "It seems this isn't a good time. We'll note that we couldn't finish " +
		"today's check-in. Goodbye."

	// wordingSystemPrompt instructs the dialogue generator.  It words one
	// question at a time; the engine, not the generator, decides what to
	// ask and when to advance.
	wordingSystemPrompt = "You are a warm, concise telephone assistant checking in on a " +
		"surgical patient. Rephrase the requested question naturally in one or two short " +
		"sentences. Ask exactly one question. Never give medical advice or a diagnosis. " +
		"Plain spoken language only."
)
