package patient

import "context"

// PatientRepository reports absence as apperr.ErrNotFound, never as a nil
// patient.
type PatientRepository interface {
	NextID(ctx context.Context) (string, error)
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id string) (*Patient, error)
	GetByMRNumber(ctx context.Context, mrNumber string) (*Patient, error)
	Exists(ctx context.Context, id string) (bool, error)
	Update(ctx context.Context, p *Patient) error
	SyncLastVisit(ctx context.Context, id string, date Date, clinic string) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

type VisitRepository interface {
	Create(ctx context.Context, v *Visit) error
	ListByPatient(ctx context.Context, patientID string) ([]*Visit, error)
}

type AlertRepository interface {
	Create(ctx context.Context, a *MedicalAlert) error
	ListActive(ctx context.Context, patientID string) ([]*MedicalAlert, error)
}
