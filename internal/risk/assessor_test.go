package risk

import (
	"fmt"
	"testing"

	"postop-checkin/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPainLevel(t *testing.T) {
	tests := []struct {
		text string
		want *int
	}{
		{"my pain is about 8", intp(8)},
		{"I'd say 6 out of 10", intp(6)},
		{"maybe a 9/10 right now", intp(9)},
		{"it's an eight I think", intp(8)},
		{"the pain is a two", intp(2)},
		{"zero, no pain at all", intp(0)},
		{"I'm 70 years old and doing fine", nil},
		{"no complaints today", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := ExtractPainLevel(tt.text)
			if tt.want == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, *tt.want, *got)
			}
		})
	}
}

func TestExtractSymptoms(t *testing.T) {
	syms := ExtractSymptoms("The incision is red and feels warm, and there's some pus")
	assert.Equal(t, []string{SymptomDischarge, SymptomRedness, SymptomWarmth}, syms)

	// "tired" must not match "red"
	assert.Empty(t, ExtractSymptoms("I'm just tired today"))
	assert.Empty(t, ExtractSymptoms("everything is normal"))
}

func TestAssess_RuleTable(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantRisk pkg.RiskLevel
		escalate bool
	}{
		{"no findings", "I feel fine, thanks for calling", pkg.RiskLow, false},
		{"low pain only", "pain is about a 2 today", pkg.RiskLow, false},
		{"high pain alone", "my pain is 7", pkg.RiskMedium, false},
		{"high pain with red flag", "pain is 8 and the incision looks red", pkg.RiskHigh, true},
		{"infection pattern without pain", "no pain really but the site is red and warm", pkg.RiskHigh, true},
		{"breathing difficulty alone", "I've been short of breath since yesterday", pkg.RiskHigh, true},
		{"concurrent severe symptoms", "the pain is unbearable and it's hard to breathe", pkg.RiskCritical, true},
		{"chest pain and dizziness", "I have chest pain and feel dizzy", pkg.RiskCritical, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Assess(tt.text, Context{})
			assert.Equal(t, tt.wantRisk, a.Risk)
			assert.Equal(t, tt.escalate, a.Escalate)
		})
	}
}

func TestAssess_SpecScenario(t *testing.T) {
	// Pain 9 plus a warm incision must be high and escalate.
	a := Assess("the pain is a 9 and my incision feels hot", Context{})
	require.NotNil(t, a.PainLevel)
	assert.Equal(t, 9, *a.PainLevel)
	assert.Contains(t, a.Symptoms, SymptomWarmth)
	assert.Equal(t, pkg.RiskHigh, a.Risk)
	assert.True(t, a.Escalate)

	// Pain 8 with redness and warmth: the worked example from the rule table.
	a = Assess("pain is 8, the incision is red and warm", Context{})
	assert.Equal(t, pkg.RiskHigh, a.Risk)
	assert.True(t, a.Escalate)

	// Pain 2 with no symptoms stays low.
	a = Assess("pain is about a 2, everything looks fine", Context{})
	assert.Equal(t, pkg.RiskLow, a.Risk)
	assert.False(t, a.Escalate)
}

func TestAssess_TieBreakHighestWins(t *testing.T) {
	// Matches the medium pain rule, the infection rule (high) and the
	// critical combination rule at once: critical must win.
	a := Assess("pain is 10, it's unbearable, the site is red and warm and I can't breathe", Context{})
	assert.Equal(t, pkg.RiskCritical, a.Risk)
	assert.True(t, a.Escalate)
}

func TestAssess_MonotonicityAddingSymptom(t *testing.T) {
	// Adding a red-flag symptom to any pain report never decreases risk.
	for pain := 0; pain <= 10; pain++ {
		base := Assess(fmt.Sprintf("my pain is %d", pain), Context{})
		for _, symptom := range []string{
			"the incision looks red", "it feels warm", "I have a fever",
			"I'm short of breath", "there is some discharge",
		} {
			withSymptom := Assess(fmt.Sprintf("my pain is %d and %s", pain, symptom), Context{})
			assert.GreaterOrEqual(t, withSymptom.Risk.Rank(), base.Risk.Rank(),
				"pain %d with %q must not rank below the bare pain report", pain, symptom)
		}
	}
}

func TestAssess_ContextAccumulation(t *testing.T) {
	// Findings persist across turns: redness reported earlier combines
	// with warmth reported now into the infection pattern.
	first := Assess("the area around the incision is red", Context{})
	assert.Equal(t, pkg.RiskLow, first.Risk)

	ctx := Context{}.Merge(first)
	second := Assess("now it also feels warm to the touch", ctx)
	assert.Equal(t, pkg.RiskHigh, second.Risk)
	assert.True(t, second.Escalate)
	assert.Contains(t, second.Symptoms, SymptomRedness)
	assert.Contains(t, second.Symptoms, SymptomWarmth)
}

func TestContextMerge_KeepsHighestPain(t *testing.T) {
	nine := 9
	ctx := Context{PainLevel: &nine}
	a := Assess("it's down to a 3 now", ctx)
	require.NotNil(t, a.PainLevel)
	assert.Equal(t, 9, *a.PainLevel)
}

func intp(v int) *int { return &v }
