package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"postop-checkin/internal/db"
	"postop-checkin/internal/orchestrator"
	"postop-checkin/internal/schedule"
	"postop-checkin/pkg"

	"go.uber.org/zap"
)

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to http.ListenAndServe.
type Server struct {
	Schedule *schedule.Service
	Patients *db.PatientRepository
	Sessions *db.SessionRepository
	Alerts   *db.AlertRepository
	Orch     *orchestrator.Orchestrator
	Logger   *zap.Logger
}

// NewServer constructs a Server.
func NewServer(sched *schedule.Service, patients *db.PatientRepository, sessions *db.SessionRepository, alerts *db.AlertRepository, orch *orchestrator.Orchestrator, logger *zap.Logger) *Server {
	return &Server{
		Schedule: sched,
		Patients: patients,
		Sessions: sessions,
		Alerts:   alerts,
		Orch:     orch,
		Logger:   logger,
	}
}

// ServeHTTP dispatches incoming requests based on the URL path.  Minimal
// routing logic is implemented here to keep dependencies light.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	// Enroll a patient: POST /api/patients/{id}/schedule
	case strings.HasPrefix(path, "/api/patients/") && strings.HasSuffix(path, "/schedule") && r.Method == http.MethodPost:
		parts := strings.Split(path, "/")
		if len(parts) != 5 {
			http.NotFound(w, r)
			return
		}
		s.handleEnroll(w, r, parts[3])
		return
	// Cancel a scheduled session: POST /api/sessions/{id}/cancel
	case strings.HasPrefix(path, "/api/sessions/") && strings.HasSuffix(path, "/cancel") && r.Method == http.MethodPost:
		parts := strings.Split(path, "/")
		if len(parts) != 5 {
			http.NotFound(w, r)
			return
		}
		s.handleCancel(w, r, parts[3])
		return
	// Session detail with transcript: GET /api/sessions/{id}
	case strings.HasPrefix(path, "/api/sessions/") && r.Method == http.MethodGet:
		parts := strings.Split(path, "/")
		if len(parts) != 4 {
			http.NotFound(w, r)
			return
		}
		s.handleSessionDetail(w, r, parts[3])
		return
	// Open alerts for care staff: GET /api/alerts/open
	case path == "/api/alerts/open" && r.Method == http.MethodGet:
		s.handleOpenAlerts(w, r)
		return
	// Telephony webhooks.  These always answer with valid voice markup.
	case path == "/webhooks/voice/answer" && r.Method == http.MethodPost:
		s.handleVoiceAnswer(w, r)
		return
	case path == "/webhooks/voice/turn" && r.Method == http.MethodPost:
		s.handleVoiceTurn(w, r)
		return
	case path == "/webhooks/voice/status" && r.Method == http.MethodPost:
		s.handleVoiceStatus(w, r)
		return
	default:
		http.NotFound(w, r)
	}
}

// handleEnroll generates the call schedule for a patient.  Re-enrolling
// is a documented no-op and returns 200 instead of 201.
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request, patientID string) {
	ctx := r.Context()
	patient, err := s.Patients.Get(ctx, patientID)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "patient not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	created, err := s.Schedule.Enroll(ctx, patient)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{
		"patient_id": patientID,
		"created":    created,
	})
}

// handleCancel cancels a still-scheduled session.  Sessions already
// claimed or executed cannot be cancelled and return 409.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, sessionID string) {
	cancelled, err := s.Sessions.Cancel(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !cancelled {
		http.Error(w, "session is not in a cancellable state", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"status":     pkg.StatusCancelled,
	})
}

// handleSessionDetail returns a session together with its transcript.
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()
	session, err := s.Sessions.Get(ctx, sessionID)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	turns, err := s.Sessions.Turns(ctx, sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":    session,
		"transcript": turns,
	})
}

// handleOpenAlerts returns all open clinical alerts as JSON.
func (s *Server) handleOpenAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.Alerts.ListOpen(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleVoiceAnswer handles the provider's call-answered event and
// returns the greeting markup.
func (s *Server) handleVoiceAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	markup := s.Orch.HandleAnswer(r.Context(), sessionID)
	writeMarkup(w, markup)
}

// handleVoiceTurn handles one captured patient turn.  An absent recording
// URL means the silence window elapsed without speech.
func (s *Server) handleVoiceTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if err := r.ParseForm(); err != nil {
		// Still answer with markup: the provider must never see a bare error.
		writeMarkup(w, s.Orch.HandleTurn(r.Context(), sessionID, ""))
		return
	}
	audioURL := r.FormValue("RecordingUrl")
	markup := s.Orch.HandleTurn(r.Context(), sessionID, audioURL)
	writeMarkup(w, markup)
}

// handleVoiceStatus records provider call-status events (no answer,
// busy, failed, completed).
func (s *Server) handleVoiceStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.Orch.HandleStatus(r.Context(), sessionID, r.FormValue("CallStatus"))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMarkup(w http.ResponseWriter, markup string) {
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(markup))
}
