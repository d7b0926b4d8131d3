// Package sweep periodically finds due call sessions and hands each one
// to the orchestrator exactly once.  Multiple sweep instances may run
// concurrently (horizontal scale-out); the atomic claim transition in the
// store guarantees a session is only ever executed by one of them.
package sweep

import (
	"context"
	"time"

	"postop-checkin/pkg"

	"go.uber.org/zap"
)

// Store is the slice of the session repository the sweep needs.
type Store interface {
	FindDue(ctx context.Context, now time.Time, limit int) ([]pkg.CallSession, error)
	Claim(ctx context.Context, id string) (bool, error)
}

// Starter executes a claimed session.
type Starter interface {
	StartCall(ctx context.Context, session pkg.CallSession) error
}

// Sweep polls for due sessions on a fixed interval.
type Sweep struct {
	store    Store
	starter  Starter
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

// New constructs a Sweep.
func New(store Store, starter Starter, interval time.Duration, batch int, logger *zap.Logger) *Sweep {
	return &Sweep{
		store:    store,
		starter:  starter,
		interval: interval,
		batch:    batch,
		logger:   logger,
	}
}

// Run polls until the context is cancelled.  It is safe to run several
// Run loops against the same database.
func (s *Sweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass: list due sessions, claim each one, and
// start calls for the claims we won.  A lost claim is not an error; the
// winning sweep instance owns that session.
func (s *Sweep) RunOnce(ctx context.Context) int {
	due, err := s.store.FindDue(ctx, time.Now().UTC(), s.batch)
	if err != nil {
		s.logger.Error("failed to list due sessions", zap.Error(err))
		return 0
	}
	started := 0
	for _, session := range due {
		claimed, err := s.store.Claim(ctx, session.ID)
		if err != nil {
			s.logger.Error("claim failed",
				zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		s.logger.Info("session claimed",
			zap.String("session_id", session.ID),
			zap.String("patient_id", session.PatientID),
			zap.String("call_type", string(session.CallType)),
		)
		if err := s.starter.StartCall(ctx, session); err != nil {
			s.logger.Error("failed to start call",
				zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		started++
	}
	return started
}
