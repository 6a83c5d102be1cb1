package emr

import "context"

type Repository interface {
	// Upsert inserts or replaces the section document and reports whether a
	// new row was created. On replace, created_at and created_by are kept and
	// written back into rec.
	Upsert(ctx context.Context, rec *Record) (created bool, err error)
	Get(ctx context.Context, patientID, sectionType string) (*Record, error)
	ListByPatient(ctx context.Context, patientID string) ([]*Record, error)
	Delete(ctx context.Context, patientID, sectionType string) (bool, error)
}
