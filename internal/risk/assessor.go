// Package risk implements the clinical risk assessor: a pure function
// that extracts a pain level and red-flag symptoms from one patient turn
// and scores them against a fixed rule table.  It performs no I/O, so the
// rule table can be tested exhaustively.
package risk

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"postop-checkin/pkg"
)

// Context carries findings accumulated over earlier turns of the same
// call.  Symptoms persist for the whole call: a patient who mentioned
// redness two turns ago and warmth now has reported both.
type Context struct {
	PainLevel *int
	Symptoms  []string
}

// Merge folds an assessment back into the context for the next turn.  The
// highest reported pain level wins.
func (c Context) Merge(a pkg.Assessment) Context {
	out := Context{PainLevel: c.PainLevel}
	if a.PainLevel != nil && (out.PainLevel == nil || *a.PainLevel > *out.PainLevel) {
		v := *a.PainLevel
		out.PainLevel = &v
	}
	seen := make(map[string]bool)
	for _, s := range c.Symptoms {
		seen[s] = true
	}
	for _, s := range a.Symptoms {
		seen[s] = true
	}
	for s := range seen {
		out.Symptoms = append(out.Symptoms, s)
	}
	sort.Strings(out.Symptoms)
	return out
}

// Symptom keys produced by phrase extraction.
const (
	SymptomRedness    = "redness"
	SymptomWarmth     = "warmth"
	SymptomFever      = "fever"
	SymptomDischarge  = "discharge"
	SymptomSwelling   = "swelling"
	SymptomBreathing  = "breathing_difficulty"
	SymptomChestPain  = "chest_pain"
	SymptomSeverePain = "severe_pain"
	SymptomBleeding   = "bleeding"
	SymptomDizziness  = "dizziness"
	SymptomNumbness   = "numbness"
)

// symptomPhrases maps red-flag phrases to symptom keys.  Matching is
// case-insensitive substring matching over the normalized turn text.
var symptomPhrases = map[string]string{
	"red":                 SymptomRedness,
	"redness":             SymptomRedness,
	"warm":                SymptomWarmth,
	"hot":                 SymptomWarmth,
	"warmth":              SymptomWarmth,
	"fever":               SymptomFever,
	"temperature":         SymptomFever,
	"chills":              SymptomFever,
	"discharge":           SymptomDischarge,
	"pus":                 SymptomDischarge,
	"oozing":              SymptomDischarge,
	"leaking":             SymptomDischarge,
	"swollen":             SymptomSwelling,
	"swelling":            SymptomSwelling,
	"short of breath":     SymptomBreathing,
	"shortness of breath": SymptomBreathing,
	"can't breathe":       SymptomBreathing,
	"cannot breathe":      SymptomBreathing,
	"hard to breathe":     SymptomBreathing,
	"trouble breathing":   SymptomBreathing,
	"chest pain":          SymptomChestPain,
	"chest hurts":         SymptomChestPain,
	"severe pain":         SymptomSeverePain,
	"unbearable":          SymptomSeverePain,
	"worst pain":          SymptomSeverePain,
	"bleeding":            SymptomBleeding,
	"blood":               SymptomBleeding,
	"dizzy":               SymptomDizziness,
	"lightheaded":         SymptomDizziness,
	"faint":               SymptomDizziness,
	"numb":                SymptomNumbness,
}

// infectionPatterns lists symptom combinations scored high regardless of
// pain level: they match the classic surgical-site infection picture.
var infectionPatterns = [][]string{
	{SymptomRedness, SymptomWarmth},
	{SymptomRedness, SymptomDischarge},
	{SymptomFever, SymptomDischarge},
	{SymptomFever, SymptomSwelling},
}

// criticalPatterns lists combinations of concurrent high-severity symptoms
// scored critical.
var criticalPatterns = [][]string{
	{SymptomSeverePain, SymptomBreathing},
	{SymptomChestPain, SymptomBreathing},
	{SymptomChestPain, SymptomDizziness},
	{SymptomBleeding, SymptomDizziness},
}

// highSeverityAlone lists single symptoms that on their own warrant a high
// rating.
var highSeverityAlone = []string{SymptomBreathing, SymptomChestPain}

var (
	// "pain is 8", "pain level 8", "an 8", "8 out of 10", "8/10"
	painScaleRe  = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:/|\s*out\s+of\s*)\s*10\b`)
	painNumberRe = regexp.MustCompile(`(?i)\bpain\b[^.!?0-9]{0,30}?\b(\d{1,2})\b`)
	bareNumberRe = regexp.MustCompile(`\b(\d{1,2})\b`)
)

var numberWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// ExtractPainLevel parses a 0-10 pain rating out of free text.  It prefers
// an explicit "N out of 10" form, then a number adjacent to the word
// "pain", then a bare in-range number, then spelled-out number words.
// Returns nil when nothing parseable is present.
func ExtractPainLevel(text string) *int {
	lower := strings.ToLower(text)
	for _, re := range []*regexp.Regexp{painScaleRe, painNumberRe, bareNumberRe} {
		for _, m := range re.FindAllStringSubmatch(lower, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= 0 && n <= 10 {
				return &n
			}
		}
	}
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return r < 'a' || r > 'z'
	}) {
		if n, ok := numberWords[w]; ok {
			return &n
		}
	}
	return nil
}

// phraseRes holds one word-boundary regexp per phrase so "red" does not
// match inside "tired".
var phraseRes = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(symptomPhrases))
	for phrase := range symptomPhrases {
		out[phrase] = regexp.MustCompile(`\b` + regexp.QuoteMeta(phrase) + `\b`)
	}
	return out
}()

// ExtractSymptoms returns the red-flag symptom keys present in the text,
// sorted and deduplicated.
func ExtractSymptoms(text string) []string {
	lower := strings.ToLower(text)
	found := make(map[string]bool)
	for phrase, key := range symptomPhrases {
		if phraseRes[phrase].MatchString(lower) {
			found[key] = true
		}
	}
	var out []string
	for k := range found {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Assess runs the rule table over one patient turn plus the accumulated
// call context.  When several rules match, the highest resulting severity
// wins; severities are never averaged.  Escalate is true exactly when the
// result is high or critical.
func Assess(turnText string, prior Context) pkg.Assessment {
	merged := prior.Merge(pkg.Assessment{
		PainLevel: ExtractPainLevel(turnText),
		Symptoms:  ExtractSymptoms(turnText),
	})

	level := pkg.RiskLow
	var concerns []pkg.Concern

	pain := 0
	if merged.PainLevel != nil {
		pain = *merged.PainLevel
	}
	have := make(map[string]bool, len(merged.Symptoms))
	for _, s := range merged.Symptoms {
		have[s] = true
	}

	// Rule: pain >= 7 alone is at least medium.
	if pain >= 7 {
		level = pkg.MaxRisk(level, pkg.RiskMedium)
		concerns = append(concerns, pkg.Concern{
			Category: "severe_pain",
			Detail:   fmt.Sprintf("patient reported pain level %d of 10", pain),
		})
	}

	// Rule: pain >= 7 combined with any red-flag symptom is high.
	if pain >= 7 && len(merged.Symptoms) > 0 {
		level = pkg.MaxRisk(level, pkg.RiskHigh)
	}

	// Rule: infection-pattern symptom combinations are high regardless of
	// pain level.
	for _, pattern := range infectionPatterns {
		if hasAll(have, pattern) {
			level = pkg.MaxRisk(level, pkg.RiskHigh)
			concerns = append(concerns, pkg.Concern{
				Category: "infection",
				Detail:   "possible surgical-site infection (" + strings.Join(pattern, ", ") + ")",
			})
			break
		}
	}

	// Rule: single symptoms that are dangerous on their own.
	for _, s := range highSeverityAlone {
		if have[s] {
			level = pkg.MaxRisk(level, pkg.RiskHigh)
			concerns = append(concerns, pkg.Concern{
				Category: s,
				Detail:   "patient reported " + strings.ReplaceAll(s, "_", " "),
			})
		}
	}

	// Rule: multiple concurrent high-severity symptoms are critical.
	for _, pattern := range criticalPatterns {
		if hasAll(have, pattern) {
			level = pkg.MaxRisk(level, pkg.RiskCritical)
			concerns = append(concerns, pkg.Concern{
				Category: "multiple_severe_symptoms",
				Detail:   "concurrent severe symptoms (" + strings.Join(pattern, ", ") + ")",
			})
			break
		}
	}

	return pkg.Assessment{
		PainLevel: merged.PainLevel,
		Symptoms:  merged.Symptoms,
		Concerns:  dedupeConcerns(concerns),
		Risk:      level,
		Escalate:  level == pkg.RiskHigh || level == pkg.RiskCritical,
	}
}

func hasAll(have map[string]bool, pattern []string) bool {
	for _, s := range pattern {
		if !have[s] {
			return false
		}
	}
	return true
}

func dedupeConcerns(in []pkg.Concern) []pkg.Concern {
	seen := make(map[string]bool, len(in))
	var out []pkg.Concern
	for _, c := range in {
		if !seen[c.Category] {
			seen[c.Category] = true
			out = append(out, c)
		}
	}
	return out
}
