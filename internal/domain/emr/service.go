package emr

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/ehr/emr/internal/platform/apperr"
	"github.com/ehr/emr/internal/platform/events"
	"github.com/ehr/emr/pkg/document"
)

var sectionTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,49}$`)

type Service struct {
	repo          Repository
	defaultAuthor string
	events        events.Publisher
	logger        zerolog.Logger
}

type Option func(*Service)

func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService builds the section store. defaultAuthor labels records saved
// without a createdBy.
func NewService(repo Repository, defaultAuthor string, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		defaultAuthor: lo.Ternary(strings.TrimSpace(defaultAuthor) != "", defaultAuthor, "system"),
		events:        events.Nop{},
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validSection(sectionType string) error {
	if !sectionTypePattern.MatchString(sectionType) {
		return apperr.Validation("invalid section type %q", sectionType)
	}
	return nil
}

// Save upserts the section document and reports whether it was created.
func (s *Service) Save(ctx context.Context, patientID, sectionType string, req *SaveRequest) (*Record, bool, error) {
	if err := validSection(sectionType); err != nil {
		return nil, false, err
	}
	if req == nil {
		req = &SaveRequest{}
	}
	rec := &Record{
		PatientID:   patientID,
		SectionType: sectionType,
		Data:        document.ObjectValue(),
		CreatedBy:   lo.Ternary(strings.TrimSpace(req.CreatedBy) != "", strings.TrimSpace(req.CreatedBy), s.defaultAuthor),
	}
	if req.Data != nil {
		rec.Data = *req.Data
	}

	created, err := s.repo.Upsert(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	s.publish(ctx, events.EMRSectionSaved, patientID, map[string]interface{}{
		"section_type": sectionType,
		"record_id":    rec.ID,
		"created":      created,
	})
	return rec, created, nil
}

// Get never fails on a missing section; it answers Exists=false instead.
func (s *Service) Get(ctx context.Context, patientID, sectionType string) (*Lookup, error) {
	if err := validSection(sectionType); err != nil {
		return nil, err
	}
	rec, err := s.repo.Get(ctx, patientID, sectionType)
	if errors.Is(err, apperr.ErrNotFound) {
		return &Lookup{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Lookup{Exists: true, Record: rec}, nil
}

// GetAll returns every section of the patient keyed by section type.
func (s *Service) GetAll(ctx context.Context, patientID string) (map[string]*Record, error) {
	records, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return lo.KeyBy(records, func(r *Record) string { return r.SectionType }), nil
}

// Delete is idempotent and reports whether a section was removed.
func (s *Service) Delete(ctx context.Context, patientID, sectionType string) (bool, error) {
	if err := validSection(sectionType); err != nil {
		return false, err
	}
	deleted, err := s.repo.Delete(ctx, patientID, sectionType)
	if err != nil {
		return false, err
	}
	if deleted {
		s.publish(ctx, events.EMRSectionDeleted, patientID, map[string]interface{}{"section_type": sectionType})
	}
	return deleted, nil
}

func (s *Service) publish(ctx context.Context, eventType, patientID string, data interface{}) {
	if err := s.events.Publish(ctx, events.New(eventType, patientID, data)); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("patient_id", patientID).Msg("event publish failed")
	}
}
