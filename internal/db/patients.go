package db

import (
	"context"
	"database/sql"
	"errors"

	"postop-checkin/pkg"
)

// PatientRepository is the read-only view of patient records the core
// needs.  Patient CRUD belongs to the patient-management collaborator.
type PatientRepository struct {
	DB *sql.DB
}

// NewPatientRepository constructs a PatientRepository from an existing sql.DB.
func NewPatientRepository(db *sql.DB) *PatientRepository {
	return &PatientRepository{DB: db}
}

// Get loads a patient by ID.
func (r *PatientRepository) Get(ctx context.Context, id string) (*pkg.Patient, error) {
	var p pkg.Patient
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, phone, surgery_date, physician_id, created_at
         FROM patients WHERE id = $1`, id,
	).Scan(&p.ID, &p.Phone, &p.SurgeryDate, &p.PhysicianID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
