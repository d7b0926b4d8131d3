package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"postop-checkin/pkg"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("db: not found")

// SessionRepository wraps all database operations on call sessions and
// their conversation turns.  The caller is responsible for managing the
// underlying DB connection lifecycle.
type SessionRepository struct {
	DB     *sql.DB
	logger *zap.Logger
}

// NewSessionRepository constructs a SessionRepository from an existing sql.DB.
func NewSessionRepository(db *sql.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{DB: db, logger: logger}
}

const sessionColumns = `id, patient_id, stage, scheduled_date, days_from_surgery,
       call_type, call_status, flow_state, agent_notes, compliance_score,
       risk_level, concerns_identified, actual_call_start,
       call_duration_seconds, call_outcome, provider_call_id, attempt, created_at`

// CreateSchedule persists a generated schedule in a single transaction.
// Generation is a no-op when the patient already has any first-attempt
// session: the transaction is rolled back and created is false.  The
// unique (patient_id, days_from_surgery, attempt) index backstops races
// between concurrent enrollments.
func (r *SessionRepository) CreateSchedule(ctx context.Context, sessions []pkg.CallSession) (created bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM call_sessions WHERE patient_id = $1 AND attempt = 1`,
		sessions[0].PatientID,
	).Scan(&existing)
	if err != nil {
		return false, err
	}
	if existing > 0 {
		_ = tx.Rollback()
		return false, nil
	}

	for _, s := range sessions {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO call_sessions
                 (id, patient_id, stage, scheduled_date, days_from_surgery, call_type, call_status)
             VALUES ($1, $2, $3, $4, $5, $6, $7)
             ON CONFLICT DO NOTHING`,
			s.ID, s.PatientID, s.Stage, s.ScheduledDate, s.DaysFromSurgery, s.CallType, pkg.StatusScheduled,
		)
		if err != nil {
			return false, err
		}
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Get loads a single call session by ID.
func (r *SessionRepository) Get(ctx context.Context, id string) (*pkg.CallSession, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// FindDue returns scheduled sessions whose scheduled date has passed,
// oldest first.  Claiming is a separate, conditional step.
func (r *SessionRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]pkg.CallSession, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+sessionColumns+`
         FROM call_sessions
         WHERE call_status = 'scheduled' AND scheduled_date <= $1
         ORDER BY scheduled_date ASC
         LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var due []pkg.CallSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, *s)
	}
	return due, rows.Err()
}

// Claim performs the atomic scheduled → dialing transition.  Exactly one
// concurrent claimant observes claimed == true; the losers see false and
// simply move on.
func (r *SessionRepository) Claim(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE call_sessions SET call_status = 'dialing'
         WHERE id = $1 AND call_status = 'scheduled'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetProviderCallID stores the telephony provider's call handle once the
// outbound call has been placed.
func (r *SessionRepository) SetProviderCallID(ctx context.Context, id, providerCallID string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE call_sessions SET provider_call_id = $2 WHERE id = $1`, id, providerCallID)
	return err
}

// MarkInProgress records the dialing → in_progress transition when the
// provider reports the call answered.
func (r *SessionRepository) MarkInProgress(ctx context.Context, id string, start time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE call_sessions SET call_status = 'in_progress', actual_call_start = $2
         WHERE id = $1 AND call_status = 'dialing'`, id, start)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s is not dialing: %w", id, ErrNotFound)
	}
	return nil
}

// SaveTurn persists one turn of conversation: the patient's utterance (if
// any was heard), the agent's reply, the serialized flow state and the
// accumulated risk picture, all in one transaction so a crash between
// turns never loses context.
func (r *SessionRepository) SaveTurn(ctx context.Context, sessionID, patientText, agentText string, state json.RawMessage, risk pkg.RiskLevel, concerns []string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if patientText != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO call_turns (session_id, role, content) VALUES ($1, $2, $3)`,
			sessionID, pkg.RolePatient, patientText); err != nil {
			return err
		}
	}
	if agentText != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO call_turns (session_id, role, content) VALUES ($1, $2, $3)`,
			sessionID, pkg.RoleAgent, agentText); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE call_sessions
         SET flow_state = $2, risk_level = $3, concerns_identified = $4
         WHERE id = $1`,
		sessionID, []byte(state), string(risk), pq.Array(concerns)); err != nil {
		return err
	}
	return tx.Commit()
}

// Complete records the in_progress → completed transition with the final
// outcome, compliance score and agent notes.
func (r *SessionRepository) Complete(ctx context.Context, id, outcome string, score int, notes pkg.AgentNotes, durationSeconds int) error {
	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE call_sessions
         SET call_status = 'completed', call_outcome = $2, compliance_score = $3,
             agent_notes = $4, call_duration_seconds = $5
         WHERE id = $1 AND call_status = 'in_progress'`,
		id, outcome, score, notesJSON, durationSeconds)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s is not in progress: %w", id, ErrNotFound)
	}
	return nil
}

// MarkTerminal moves an active session to failed, no_answer or busy.  Only
// dialing and in_progress sessions can be ended this way; terminal states
// are never revisited.
func (r *SessionRepository) MarkTerminal(ctx context.Context, id string, status pkg.CallStatus, outcome string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	_, err := r.DB.ExecContext(ctx,
		`UPDATE call_sessions SET call_status = $2, call_outcome = $3
         WHERE id = $1 AND call_status IN ('dialing', 'in_progress')`,
		id, status, outcome)
	return err
}

// Cancel moves a still-scheduled session to cancelled.  Sessions already
// claimed for dialing cannot be cancelled externally; the conditional
// update makes the race with the sweep safe.
func (r *SessionRepository) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE call_sessions SET call_status = 'cancelled'
         WHERE id = $1 AND call_status = 'scheduled'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecentCompleted returns the patient's most recently completed sessions,
// newest first, for context carry-over into a new call.
func (r *SessionRepository) RecentCompleted(ctx context.Context, patientID string, limit int) ([]pkg.CallSession, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+sessionColumns+`
         FROM call_sessions
         WHERE patient_id = $1 AND call_status = 'completed'
         ORDER BY scheduled_date DESC
         LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pkg.CallSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Turns returns the full conversation history for a session in order.
func (r *SessionRepository) Turns(ctx context.Context, sessionID string) ([]pkg.Turn, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at
         FROM call_turns WHERE session_id = $1 ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var turns []pkg.Turn
	for rows.Next() {
		var t pkg.Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// CreateFollowUp inserts an explicit redial session for a call that ended
// no_answer or busy.  The attempt counter makes the retry visible in the
// schedule instead of hiding it in a loop.
func (r *SessionRepository) CreateFollowUp(ctx context.Context, orig *pkg.CallSession, scheduledAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO call_sessions
             (id, patient_id, stage, scheduled_date, days_from_surgery, call_type, call_status, attempt)
         VALUES ($1, $2, $3, $4, $5, $6, 'scheduled', $7)`,
		id, orig.PatientID, orig.Stage, scheduledAt, orig.DaysFromSurgery, orig.CallType, orig.Attempt+1)
	if err != nil {
		return "", err
	}
	return id, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanSession.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*pkg.CallSession, error) {
	var (
		s          pkg.CallSession
		flowState  []byte
		agentNotes []byte
		score      sql.NullInt64
		risk       sql.NullString
		concerns   pq.StringArray
		start      sql.NullTime
		duration   sql.NullInt64
		outcome    sql.NullString
		providerID sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.PatientID, &s.Stage, &s.ScheduledDate, &s.DaysFromSurgery,
		&s.CallType, &s.CallStatus, &flowState, &agentNotes, &score,
		&risk, &concerns, &start, &duration, &outcome, &providerID,
		&s.Attempt, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.FlowState = flowState
	if len(agentNotes) > 0 {
		var n pkg.AgentNotes
		if err := json.Unmarshal(agentNotes, &n); err == nil {
			s.AgentNotes = &n
		}
	}
	if score.Valid {
		v := int(score.Int64)
		s.ComplianceScore = &v
	}
	if risk.Valid {
		v := pkg.RiskLevel(risk.String)
		s.RiskLevel = &v
	}
	s.ConcernsIdentified = concerns
	if start.Valid {
		v := start.Time
		s.ActualCallStart = &v
	}
	if duration.Valid {
		v := int(duration.Int64)
		s.CallDurationSeconds = &v
	}
	if outcome.Valid {
		v := outcome.String
		s.CallOutcome = &v
	}
	if providerID.Valid {
		v := providerID.String
		s.ProviderCallID = &v
	}
	return &s, nil
}
