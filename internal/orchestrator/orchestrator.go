// Package orchestrator drives the telephony lifecycle of one call
// session: dialing, the per-turn pipeline (transcribe → assess → advance
// flow → persist → respond), silence handling, the duration cap, and
// terminal outcomes.  Every webhook reply it produces is valid voice
// markup, degrading to a safe goodbye on any internal failure.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"postop-checkin/internal/flow"
	"postop-checkin/internal/llm"
	"postop-checkin/internal/risk"
	"postop-checkin/internal/telephony"
	"postop-checkin/pkg"

	"go.uber.org/zap"
)

// SessionStore is the slice of the session repository the orchestrator
// needs.  All mutation of a session during its call flows through here,
// making the orchestrator the session's single logical writer.
type SessionStore interface {
	Get(ctx context.Context, id string) (*pkg.CallSession, error)
	SetProviderCallID(ctx context.Context, id, providerCallID string) error
	MarkInProgress(ctx context.Context, id string, start time.Time) error
	SaveTurn(ctx context.Context, sessionID, patientText, agentText string, state json.RawMessage, risk pkg.RiskLevel, concerns []string) error
	Complete(ctx context.Context, id, outcome string, score int, notes pkg.AgentNotes, durationSeconds int) error
	MarkTerminal(ctx context.Context, id string, status pkg.CallStatus, outcome string) error
	RecentCompleted(ctx context.Context, patientID string, limit int) ([]pkg.CallSession, error)
	CreateFollowUp(ctx context.Context, orig *pkg.CallSession, scheduledAt time.Time) (string, error)
}

// PatientStore provides the read-only patient view.
type PatientStore interface {
	Get(ctx context.Context, id string) (*pkg.Patient, error)
}

// Escalator creates clinical alerts from escalating assessments.
type Escalator interface {
	Dispatch(ctx context.Context, session *pkg.CallSession, patient *pkg.Patient, a pkg.Assessment) ([]pkg.ClinicalAlert, error)
}

// Dialer places the outbound call through the telephony provider.
type Dialer interface {
	InitiateCall(ctx context.Context, toNumber, sessionID string) (string, error)
}

// Options bounds the orchestrator's timers.
type Options struct {
	TurnTimeout       time.Duration
	MaxCallDuration   time.Duration
	TranscribeTimeout time.Duration
	MinConfidence     float64
	RedialMaxAttempts int
	RedialDelay       time.Duration
}

// callState is the envelope persisted on the session row after every
// turn: the flow position plus the accumulated risk picture and the
// silence counter.  It is the single source of truth for the call; the
// orchestrator holds nothing in memory between turns.
type callState struct {
	Flow     flow.State `json:"flow"`
	Risk     riskState  `json:"risk"`
	Silences int        `json:"silences"`
}

type riskState struct {
	PainLevel *int     `json:"pain_level,omitempty"`
	Symptoms  []string `json:"symptoms,omitempty"`
}

// Orchestrator executes claimed call sessions.  One instance serves all
// concurrent calls; per-call state lives in the session row.
type Orchestrator struct {
	sessions    SessionStore
	patients    PatientStore
	flowEng     *flow.Engine
	ai          llm.Client
	escalator   Escalator
	dialer      Dialer
	opts        Options
	baseURL     string
	logger      *zap.Logger
}

// New constructs an Orchestrator.
func New(sessions SessionStore, patients PatientStore, flowEng *flow.Engine, ai llm.Client, escalator Escalator, dialer Dialer, opts Options, publicBaseURL string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		sessions:    sessions,
		patients:    patients,
		flowEng:     flowEng,
		ai:          ai,
		escalator:   escalator,
		dialer:      dialer,
		opts:        opts,
		baseURL:     publicBaseURL,
		logger:      logger,
	}
}

// StartCall places the outbound call for a session the sweep has already
// claimed (status dialing).  A provider failure marks the session failed;
// it is not retried implicitly.
func (o *Orchestrator) StartCall(ctx context.Context, session pkg.CallSession) error {
	patient, err := o.patients.Get(ctx, session.PatientID)
	if err != nil {
		_ = o.sessions.MarkTerminal(ctx, session.ID, pkg.StatusFailed, "patient lookup failed")
		return fmt.Errorf("start call %s: %w", session.ID, err)
	}
	providerCallID, err := o.dialer.InitiateCall(ctx, patient.Phone, session.ID)
	if err != nil {
		_ = o.sessions.MarkTerminal(ctx, session.ID, pkg.StatusFailed, "provider dial error")
		return fmt.Errorf("start call %s: %w", session.ID, err)
	}
	if err := o.sessions.SetProviderCallID(ctx, session.ID, providerCallID); err != nil {
		o.logger.Error("failed to store provider call id",
			zap.String("session_id", session.ID), zap.Error(err))
	}
	return nil
}

// HandleAnswer processes the provider's call-answered event: the session
// moves to in_progress, the flow state is initialized with context from
// the patient's recent completed calls, and the greeting is returned as
// markup that gathers the first patient turn.
func (o *Orchestrator) HandleAnswer(ctx context.Context, sessionID string) string {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		o.logger.Error("answer event for unknown session",
			zap.String("session_id", sessionID), zap.Error(err))
		return telephony.SafeFallback
	}
	if err := o.sessions.MarkInProgress(ctx, sessionID, time.Now().UTC()); err != nil {
		o.logger.Error("failed to mark call in progress",
			zap.String("session_id", sessionID), zap.Error(err))
		return telephony.SafeFallback
	}

	recent, err := o.sessions.RecentCompleted(ctx, session.PatientID, 2)
	if err != nil {
		// Carry-over is an enhancement, not a requirement; start fresh.
		o.logger.Warn("failed to load recent sessions",
			zap.String("session_id", sessionID), zap.Error(err))
		recent = nil
	}

	cs := callState{Flow: *o.flowEng.NewState(session.CallType, recent)}
	greeting := o.flowEng.Greeting(ctx, &cs.Flow, len(recent) > 0)

	if markup, failed := o.persistTurn(ctx, session, &cs, "", greeting); failed {
		return markup
	}
	return telephony.GatherSpeech(greeting, o.turnURL(sessionID), o.turnSeconds()).Render()
}

// HandleTurn processes one captured patient turn (or a silence event when
// audioURL is empty): transcription, risk assessment, escalation, flow
// advancement and persistence, in that order.  The returned markup either
// gathers the next turn or says goodbye and hangs up.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, audioURL string) string {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		o.logger.Error("turn event for unknown session",
			zap.String("session_id", sessionID), zap.Error(err))
		return telephony.SafeFallback
	}
	if session.CallStatus != pkg.StatusInProgress {
		// Late or duplicate event after the call already ended.
		return telephony.SayAndHangup(flow.ClosingEarly).Render()
	}

	cs := o.loadState(session)

	// Duration cap: end politely regardless of flow completion state.
	if session.ActualCallStart != nil &&
		time.Since(*session.ActualCallStart) > o.opts.MaxCallDuration {
		cs.Flow.Done = true
		o.completeCall(ctx, session, cs, "duration_cap_reached")
		return telephony.SayAndHangup(flow.ClosingEarly).Render()
	}

	text, heard := o.captureSpeech(ctx, sessionID, audioURL)
	if !heard {
		return o.handleSilence(ctx, session, cs)
	}
	cs.Silences = 0

	assessment := risk.Assess(text, risk.Context{
		PainLevel: cs.Risk.PainLevel,
		Symptoms:  cs.Risk.Symptoms,
	})
	cs.Risk = riskState{PainLevel: assessment.PainLevel, Symptoms: assessment.Symptoms}

	// Escalation is decoupled from call completion: the alert is created
	// even if the call fails later for unrelated reasons.
	patient, err := o.patients.Get(ctx, session.PatientID)
	if err != nil {
		o.logger.Error("patient lookup failed during call",
			zap.String("session_id", sessionID), zap.Error(err))
	} else if _, err := o.escalator.Dispatch(ctx, session, patient, assessment); err != nil {
		o.logger.Error("escalation dispatch failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	step := o.flowEng.Next(ctx, &cs.Flow, text, assessment)

	session.RiskLevel = mergedRisk(session.RiskLevel, assessment.Risk)
	session.ConcernsIdentified = mergeConcerns(session.ConcernsIdentified, assessment.Concerns)

	if markup, failed := o.persistTurn(ctx, session, cs, text, step.Prompt); failed {
		return markup
	}

	if step.Terminate {
		o.completeCall(ctx, session, cs, "flow_completed")
		return telephony.SayAndHangup(step.Prompt).Render()
	}
	return telephony.GatherSpeech(step.Prompt, o.turnURL(sessionID), o.turnSeconds()).Render()
}

// HandleStatus processes provider call-status events that end a call
// without conversation: no answer, busy line, provider-side failure, or
// the caller hanging up mid-conversation.
func (o *Orchestrator) HandleStatus(ctx context.Context, sessionID, providerStatus string) {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		o.logger.Error("status event for unknown session",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if session.CallStatus.Terminal() {
		return
	}

	switch providerStatus {
	case "no-answer", "no_answer":
		_ = o.sessions.MarkTerminal(ctx, sessionID, pkg.StatusNoAnswer, "patient did not answer")
		o.maybeScheduleRedial(ctx, session)
	case "busy":
		_ = o.sessions.MarkTerminal(ctx, sessionID, pkg.StatusBusy, "line busy")
		o.maybeScheduleRedial(ctx, session)
	case "failed":
		_ = o.sessions.MarkTerminal(ctx, sessionID, pkg.StatusFailed, "provider reported failure")
	case "completed":
		if session.CallStatus == pkg.StatusInProgress {
			// Caller hung up before the flow finished.  Partial history is
			// already persisted; close the session with what we have.
			cs := o.loadState(session)
			o.completeCall(ctx, session, cs, "caller_hung_up")
		}
	default:
		o.logger.Warn("unrecognized provider status",
			zap.String("session_id", sessionID),
			zap.String("status", providerStatus))
	}
}

// captureSpeech turns an audio reference into text via the transcription
// collaborator.  Timeouts, failures, empty transcripts and low-confidence
// results all report heard == false so the caller re-prompts instead of
// hanging.
func (o *Orchestrator) captureSpeech(ctx context.Context, sessionID, audioURL string) (string, bool) {
	if audioURL == "" {
		return "", false
	}
	out := llm.TranscribeBounded(ctx, o.ai, o.opts.TranscribeTimeout, audioURL)
	switch out.Kind {
	case llm.OutcomeOK:
		if out.Text == "" || out.Confidence < o.opts.MinConfidence {
			return "", false
		}
		return out.Text, true
	case llm.OutcomeTimeout:
		o.logger.Warn("transcription timed out",
			zap.String("session_id", sessionID))
		return "", false
	default:
		o.logger.Warn("transcription failed",
			zap.String("session_id", sessionID), zap.Error(out.Err))
		return "", false
	}
}

// handleSilence re-prompts once after a silent window, then ends the call
// gracefully after a second silence.
func (o *Orchestrator) handleSilence(ctx context.Context, session *pkg.CallSession, cs *callState) string {
	cs.Silences++
	if cs.Silences >= 2 {
		cs.Flow.Done = true
		o.completeCall(ctx, session, cs, "ended_after_silence")
		return telephony.SayAndHangup(flow.SilenceGoodbye).Render()
	}
	if markup, failed := o.persistTurn(ctx, session, cs, "", flow.SilenceReprompt); failed {
		return markup
	}
	return telephony.GatherSpeech(flow.SilenceReprompt, o.turnURL(session.ID), o.turnSeconds()).Render()
}

// persistTurn writes the turn and updated state to the session row.  On
// failure the caller still must answer the provider with valid markup, so
// persistTurn returns the safe fallback and marks the session failed on a
// best-effort basis.
func (o *Orchestrator) persistTurn(ctx context.Context, session *pkg.CallSession, cs *callState, patientText, agentText string) (string, bool) {
	state, err := json.Marshal(cs)
	if err == nil {
		riskLevel := pkg.RiskLow
		if session.RiskLevel != nil {
			riskLevel = *session.RiskLevel
		}
		err = o.sessions.SaveTurn(ctx, session.ID, patientText, agentText, state, riskLevel, session.ConcernsIdentified)
	}
	if err != nil {
		o.logger.Error("failed to persist turn",
			zap.String("session_id", session.ID), zap.Error(err))
		_ = o.sessions.MarkTerminal(ctx, session.ID, pkg.StatusFailed, "persistence failure")
		return telephony.SafeFallback, true
	}
	return "", false
}

// completeCall computes the final compliance score and agent notes and
// records the completed state.
func (o *Orchestrator) completeCall(ctx context.Context, session *pkg.CallSession, cs *callState, outcome string) {
	filled, total := o.flowEng.Progress(&cs.Flow)
	score := 100
	if total > 0 {
		score = filled * 100 / total
	}
	notes := o.buildNotes(ctx, session, cs)
	duration := 0
	if session.ActualCallStart != nil {
		duration = int(time.Since(*session.ActualCallStart).Seconds())
	}
	if err := o.sessions.Complete(ctx, session.ID, outcome, score, notes, duration); err != nil {
		o.logger.Error("failed to complete session",
			zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	o.logger.Info("call completed",
		zap.String("session_id", session.ID),
		zap.String("outcome", outcome),
		zap.Int("compliance_score", score),
		zap.Int("duration_seconds", duration),
	)
}

// maybeScheduleRedial creates one explicit follow-up session for a
// no_answer/busy outcome when redialing is configured.  The attempt
// counter keeps the retry visible; there is never a hidden loop.
func (o *Orchestrator) maybeScheduleRedial(ctx context.Context, session *pkg.CallSession) {
	if o.opts.RedialMaxAttempts <= 0 || session.Attempt > o.opts.RedialMaxAttempts {
		return
	}
	at := time.Now().UTC().Add(o.opts.RedialDelay)
	id, err := o.sessions.CreateFollowUp(ctx, session, at)
	if err != nil {
		o.logger.Error("failed to schedule redial",
			zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	o.logger.Info("redial scheduled",
		zap.String("session_id", session.ID),
		zap.String("follow_up_id", id),
		zap.Time("scheduled_at", at),
		zap.Int("attempt", session.Attempt+1),
	)
}

// loadState restores the persisted call state, or starts fresh when the
// session predates any turn (e.g. a restart between answer and first
// turn).
func (o *Orchestrator) loadState(session *pkg.CallSession) *callState {
	cs := &callState{}
	restored := false
	if len(session.FlowState) > 0 {
		if err := json.Unmarshal(session.FlowState, cs); err != nil {
			o.logger.Warn("corrupt flow state, restarting flow",
				zap.String("session_id", session.ID), zap.Error(err))
			cs = &callState{}
		} else {
			restored = true
		}
	}
	if !restored {
		cs.Flow = *o.flowEng.NewState(session.CallType, nil)
	}
	if cs.Flow.Slots == nil {
		cs.Flow.Slots = make(map[string]string)
	}
	return cs
}

func (o *Orchestrator) turnURL(sessionID string) string {
	return fmt.Sprintf("%s/webhooks/voice/turn?session=%s", o.baseURL, sessionID)
}

func (o *Orchestrator) turnSeconds() int {
	s := int(o.opts.TurnTimeout.Seconds())
	if s <= 0 {
		s = 5
	}
	return s
}

func mergedRisk(current *pkg.RiskLevel, latest pkg.RiskLevel) *pkg.RiskLevel {
	merged := latest
	if current != nil {
		merged = pkg.MaxRisk(*current, latest)
	}
	return &merged
}

func mergeConcerns(existing []string, latest []pkg.Concern) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, c := range existing {
		seen[c] = true
	}
	for _, c := range latest {
		if !seen[c.Detail] {
			seen[c.Detail] = true
			out = append(out, c.Detail)
		}
	}
	return out
}
