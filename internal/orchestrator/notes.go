package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"postop-checkin/internal/llm"
	"postop-checkin/pkg"

	"go.uber.org/zap"
)

const notesSystemPrompt = "You write a two or three sentence clinical hand-off note from an " +
	"automated patient check-in call. Neutral tone, no diagnosis, no advice. Mention the " +
	"pain level and any reported symptoms if present."

// notesTimeout bounds the summary generation; the deterministic fallback
// below is always acceptable, so the budget is kept small.
const notesTimeout = 3 * time.Second

// buildNotes assembles the structured agent notes for a finished call.
// The free-text summary is worded by the dialogue collaborator when it
// responds in time; otherwise a deterministic summary built from the
// collected slots is used.
func (o *Orchestrator) buildNotes(ctx context.Context, session *pkg.CallSession, cs *callState) pkg.AgentNotes {
	collected := cs.Flow.Slots
	fallback := fallbackSummary(session, cs)

	summary := fallback
	out := llm.ChatBounded(ctx, o.ai, notesTimeout, []llm.Message{
		{Role: "system", Content: notesSystemPrompt},
		{Role: "user", Content: "Collected answers:\n" + formatCollected(collected) +
			"\nConcerns: " + strings.Join(session.ConcernsIdentified, "; ")},
	})
	if out.Kind == llm.OutcomeOK && strings.TrimSpace(out.Text) != "" {
		summary = out.Text
	} else if out.Kind != llm.OutcomeOK {
		o.logger.Warn("notes summary generation unavailable, using fallback",
			zap.String("session_id", session.ID))
	}

	return pkg.AgentNotes{
		Summary:     summary,
		Collected:   collected,
		Concerns:    session.ConcernsIdentified,
		GeneratedAt: time.Now().UTC(),
	}
}

func fallbackSummary(session *pkg.CallSession, cs *callState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated %s check-in (day %d).", session.CallType, session.DaysFromSurgery)
	if cs.Risk.PainLevel != nil {
		fmt.Fprintf(&b, " Reported pain level %d of 10.", *cs.Risk.PainLevel)
	}
	if len(cs.Risk.Symptoms) > 0 {
		fmt.Fprintf(&b, " Symptoms mentioned: %s.", strings.Join(cs.Risk.Symptoms, ", "))
	}
	if len(session.ConcernsIdentified) > 0 {
		fmt.Fprintf(&b, " Flagged for review: %s.", strings.Join(session.ConcernsIdentified, "; "))
	} else {
		b.WriteString(" No concerning findings.")
	}
	return b.String()
}

func formatCollected(collected map[string]string) string {
	if len(collected) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(collected))
	for k := range collected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, collected[k])
	}
	return b.String()
}
