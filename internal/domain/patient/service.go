package patient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/ehr/emr/internal/platform/apperr"
	"github.com/ehr/emr/internal/platform/blobstore"
	"github.com/ehr/emr/internal/platform/cache"
	"github.com/ehr/emr/internal/platform/db"
	"github.com/ehr/emr/internal/platform/events"
)

// Defaults applied when a request leaves clinic or location empty.
type Defaults struct {
	Clinic   string
	Location string
}

type Service struct {
	patients PatientRepository
	visits   VisitRepository
	alerts   AlertRepository
	tx       db.Transactor

	defaults Defaults
	cache    cache.Cache
	cacheTTL time.Duration
	events   events.Publisher
	photos   blobstore.BlobStore
	logger   zerolog.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithCache enables the patient detail read-through cache.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithPhotoStore moves data URI photos into the blob store.
func WithPhotoStore(b blobstore.BlobStore) Option {
	return func(s *Service) { s.photos = b }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(patients PatientRepository, visits VisitRepository, alerts AlertRepository, tx db.Transactor, defaults Defaults, opts ...Option) *Service {
	if defaults.Clinic == "" {
		defaults.Clinic = "CHN"
	}
	if defaults.Location == "" {
		defaults.Location = "Chennai"
	}
	s := &Service{
		patients: patients,
		visits:   visits,
		alerts:   alerts,
		tx:       tx,
		defaults: defaults,
		cache:    cache.Nop{},
		events:   events.Nop{},
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -- Patient --

// CreatePatient registers a patient together with the intake visit and the
// alerts derived from allergies and conditions, all in one transaction.
func (s *Service) CreatePatient(ctx context.Context, req *CreatePatientRequest) (*Patient, error) {
	p, err := s.newPatient(req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	visit := &Visit{
		VisitDate: DateOf(now),
		VisitTime: now.Format(TimeLayout),
		VisitType: p.VisitType,
		Purpose:   p.Purpose,
		Clinic:    lo.ToPtr(lo.Ternary(req.Clinic != "", req.Clinic, s.defaults.Clinic)),
		Location:  lo.ToPtr(lo.Ternary(req.Location != "", req.Location, s.defaults.Location)),
	}
	// the intake visit counts as the last visit
	p.LastVisitDate = lo.ToPtr(visit.VisitDate)
	p.LastClinic = visit.Clinic

	id, err := s.patients.NextID(ctx)
	if err != nil {
		return nil, err
	}
	p.ID = id
	visit.PatientID = id

	photoKey, err := s.storePhoto(ctx, id, p.Photo)
	if err != nil {
		return nil, err
	}
	if photoKey != "" {
		p.Photo = lo.ToPtr(blobstore.Ref(photoKey))
	}

	alerts := BuildAlerts(id, p.Allergies, p.Conditions)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.patients.Create(ctx, p); err != nil {
			return err
		}
		if err := s.visits.Create(ctx, visit); err != nil {
			return err
		}
		for _, a := range alerts {
			if err := s.alerts.Create(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.discardPhoto(ctx, photoKey)
		return nil, err
	}

	p.VisitCount = 1
	s.publish(ctx, events.PatientCreated, id, map[string]interface{}{
		"mr_number": p.MRNumber,
		"visit_id":  visit.ID,
		"alerts":    len(alerts),
	})
	return p, nil
}

func (s *Service) newPatient(req *CreatePatientRequest) (*Patient, error) {
	mr := strings.TrimSpace(req.MRNumber)
	if mr == "" {
		return nil, apperr.Validation("mrNumber is required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	dob, err := optionalDate(req.DOB)
	if err != nil {
		return nil, err
	}
	if req.Age.Set && req.Age.Int < 0 {
		return nil, apperr.Validation("age must not be negative")
	}
	return &Patient{
		MRNumber:   mr,
		Name:       name,
		ParentInfo: req.ParentInfo,
		Age:        req.Age.Ptr(),
		Gender:     req.Gender,
		DOB:        dob,
		Mobile:     req.Mobile,
		City:       req.City,
		State:      req.State,
		Photo:      req.Photo,
		Purpose:    req.Purpose,
		VisitType:  lo.Ternary(req.VisitType != "", req.VisitType, VisitTypeNew),
		Allergies:  req.Allergies,
		Conditions: req.Conditions,
		AssignedTo: lo.Ternary(req.AssignedTo != "", req.AssignedTo, DefaultAssignedTo),
		Status:     lo.Ternary(req.Status != "", req.Status, DefaultStatus),
	}, nil
}

// UpdatePatient replaces the mutable fields of an existing patient. MR
// number, id and last-visit fields are never changed here.
func (s *Service) UpdatePatient(ctx context.Context, id string, req *UpdatePatientRequest) error {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return apperr.Validation("name is required")
	}
	dob, err := optionalDate(req.DOB)
	if err != nil {
		return err
	}
	if req.Age.Set && req.Age.Int < 0 {
		return apperr.Validation("age must not be negative")
	}

	p := &Patient{
		ID:         id,
		Name:       name,
		ParentInfo: req.ParentInfo,
		Age:        req.Age.Ptr(),
		Gender:     req.Gender,
		DOB:        dob,
		Mobile:     req.Mobile,
		City:       req.City,
		State:      req.State,
		Photo:      req.Photo,
		Purpose:    req.Purpose,
		VisitType:  req.VisitType,
		Allergies:  req.Allergies,
		Conditions: req.Conditions,
		AssignedTo: req.AssignedTo,
		Status:     req.Status,
	}

	// a stored blob the new row no longer references is removed afterwards
	var previousPhoto string
	if s.photos != nil {
		current, err := s.patients.GetByID(ctx, id)
		if err != nil {
			return err
		}
		previousPhoto = lo.FromPtr(current.Photo)
	}
	photoKey, err := s.storePhoto(ctx, id, p.Photo)
	if err != nil {
		return err
	}
	if photoKey != "" {
		p.Photo = lo.ToPtr(blobstore.Ref(photoKey))
	}

	if err := s.patients.Update(ctx, p); err != nil {
		s.discardPhoto(ctx, photoKey)
		return err
	}
	if oldKey, ok := blobstore.KeyFromRef(previousPhoto); ok && previousPhoto != lo.FromPtr(p.Photo) {
		s.discardPhoto(ctx, oldKey)
	}

	s.invalidate(ctx, id)
	s.publish(ctx, events.PatientUpdated, id, nil)
	return nil
}

// GetPatientDetail returns the patient with visit history and active alerts,
// reading through the cache when one is configured. Entries are keyed by the
// patient's cache generation as read before the database.
func (s *Service) GetPatientDetail(ctx context.Context, id string) (*Detail, error) {
	gen, err := s.cache.Generation(ctx, generationKey(id))
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", id).Msg("patient cache generation read failed")
		return s.loadDetail(ctx, id)
	}

	key := detailKey(id, gen)
	var cached Detail
	switch err := s.cache.Get(ctx, key, &cached); {
	case err == nil && cached.Patient != nil:
		return &cached, nil
	case err != nil && !errors.Is(err, cache.ErrMiss):
		s.logger.Warn().Err(err).Str("patient_id", id).Msg("patient cache read failed")
	}

	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, detail, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("patient_id", id).Msg("patient cache write failed")
	}
	return detail, nil
}

func (s *Service) loadDetail(ctx context.Context, id string) (*Detail, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, p)
}

func (s *Service) GetPatientDetailByMRNumber(ctx context.Context, mrNumber string) (*Detail, error) {
	p, err := s.patients.GetByMRNumber(ctx, mrNumber)
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, p)
}

// LookupByMRNumber is the intake duplicate check: absence is a normal answer.
func (s *Service) LookupByMRNumber(ctx context.Context, mrNumber string) (*MRLookup, error) {
	detail, err := s.GetPatientDetailByMRNumber(ctx, mrNumber)
	if errors.Is(err, apperr.ErrNotFound) {
		return &MRLookup{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &MRLookup{Exists: true, Patient: detail}, nil
}

func (s *Service) assemble(ctx context.Context, p *Patient) (*Detail, error) {
	visits, err := s.visits.ListByPatient(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	alerts, err := s.alerts.ListActive(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{
		Patient:       p,
		VisitHistory:  nonNil(visits),
		MedicalAlerts: nonNil(alerts),
	}, nil
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// -- Visits --

// LogVisit appends a visit stamped now and moves the patient's last-visit
// summary to it in the same transaction.
func (s *Service) LogVisit(ctx context.Context, patientID string, req *LogVisitRequest) (*Visit, error) {
	now := s.now()
	clinic := lo.Ternary(req.Clinic != "", req.Clinic, s.defaults.Clinic)
	v := &Visit{
		PatientID:        patientID,
		VisitDate:        DateOf(now),
		VisitTime:        now.Format(TimeLayout),
		VisitType:        lo.Ternary(req.VisitType != "", req.VisitType, VisitTypeReturn),
		Purpose:          req.Purpose,
		Clinic:           &clinic,
		Location:         lo.ToPtr(lo.Ternary(req.Location != "", req.Location, s.defaults.Location)),
		HasInvestigation: req.HasInvestigation,
		HasRefraction:    req.HasRefraction,
		HasGlaucoma:      req.HasGlaucoma,
		Notes:            req.Notes,
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.visits.Create(ctx, v); err != nil {
			return err
		}
		return s.patients.SyncLastVisit(ctx, patientID, v.VisitDate, clinic)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, patientID)
	s.publish(ctx, events.VisitLogged, patientID, v)
	return v, nil
}

func (s *Service) ListVisits(ctx context.Context, patientID string) ([]*Visit, error) {
	if err := s.ensurePatient(ctx, patientID); err != nil {
		return nil, err
	}
	visits, err := s.visits.ListByPatient(ctx, patientID)
	return nonNil(visits), err
}

// -- Alerts --

// AddAlert inserts one alert directly, bypassing derivation.
func (s *Service) AddAlert(ctx context.Context, patientID string, req *AddAlertRequest) (*MedicalAlert, error) {
	a := &MedicalAlert{
		PatientID:  patientID,
		AlertType:  strings.TrimSpace(req.AlertType),
		AlertValue: strings.TrimSpace(req.AlertValue),
		IsActive:   true,
	}
	if a.AlertType == "" {
		return nil, apperr.Validation("alertType is required")
	}
	if a.AlertValue == "" {
		return nil, apperr.Validation("alertValue is required")
	}
	if err := s.alerts.Create(ctx, a); err != nil {
		return nil, err
	}

	s.invalidate(ctx, patientID)
	s.publish(ctx, events.AlertAdded, patientID, a)
	return a, nil
}

func (s *Service) ListAlerts(ctx context.Context, patientID string) ([]*MedicalAlert, error) {
	if err := s.ensurePatient(ctx, patientID); err != nil {
		return nil, err
	}
	alerts, err := s.alerts.ListActive(ctx, patientID)
	return nonNil(alerts), err
}

// -- Photo --

// Photo returns the patient's photo bytes. Photos kept inline as data URIs
// are decoded; anything else (plain URLs, no photo) is not found. Only the
// image types accepted on upload are ever streamed.
func (s *Service) Photo(ctx context.Context, patientID string) (io.ReadCloser, string, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, "", err
	}
	photo := lo.FromPtr(p.Photo)

	if key, ok := blobstore.KeyFromRef(photo); ok && s.photos != nil {
		rc, meta, err := s.photos.Download(ctx, key)
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return nil, "", apperr.NotFound("photo for patient %s", patientID)
		}
		if err != nil {
			return nil, "", apperr.Storage("download photo", err)
		}
		if !blobstore.AllowedContentTypes[meta.ContentType] {
			rc.Close()
			return nil, "", apperr.NotFound("photo for patient %s", patientID)
		}
		return rc, meta.ContentType, nil
	}
	if blobstore.IsDataURI(photo) {
		d, err := blobstore.ParseDataURI(photo)
		if err == nil && blobstore.AllowedContentTypes[d.ContentType] {
			return io.NopCloser(bytes.NewReader(d.Data)), d.ContentType, nil
		}
	}
	return nil, "", apperr.NotFound("photo for patient %s", patientID)
}

// storePhoto uploads a data URI photo and returns its blob key, or "" when
// the value stays inline.
func (s *Service) storePhoto(ctx context.Context, patientID string, photo *string) (string, error) {
	if s.photos == nil || photo == nil || !blobstore.IsDataURI(*photo) {
		return "", nil
	}
	d, err := blobstore.ParseDataURI(*photo)
	if err != nil {
		return "", apperr.Validation("photo: %v", err)
	}
	meta, err := s.photos.Upload(ctx, blobstore.BlobMetadata{
		ContentType: d.ContentType,
		PatientID:   patientID,
	}, bytes.NewReader(d.Data))
	switch {
	case errors.Is(err, blobstore.ErrInvalidContentType), errors.Is(err, blobstore.ErrFileTooLarge):
		return "", apperr.Validation("photo: %v", err)
	case err != nil:
		return "", apperr.Storage("upload photo", err)
	}
	return meta.Key, nil
}

func (s *Service) discardPhoto(ctx context.Context, key string) {
	if key == "" || s.photos == nil {
		return
	}
	if err := s.photos.Delete(context.WithoutCancel(ctx), key); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Warn().Err(err).Str("key", key).Msg("orphaned photo blob")
	}
}

// -- helpers --

func (s *Service) ensurePatient(ctx context.Context, id string) error {
	ok, err := s.patients.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("patient %s", id)
	}
	return nil
}

// invalidate retires every detail entry for the patient by moving its
// generation forward.
func (s *Service) invalidate(ctx context.Context, id string) {
	gen, err := s.cache.Bump(ctx, generationKey(id))
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", id).Msg("patient cache invalidation failed")
		return
	}
	if gen > 0 {
		_ = s.cache.Delete(ctx, detailKey(id, gen-1))
	}
}

func (s *Service) publish(ctx context.Context, eventType, patientID string, data interface{}) {
	if err := s.events.Publish(ctx, events.New(eventType, patientID, data)); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("patient_id", patientID).Msg("event publish failed")
	}
}

func detailKey(id string, gen int64) string {
	return cache.Key("patient", "detail", id, strconv.FormatInt(gen, 10))
}

func generationKey(id string) string {
	return cache.Key("patient", "gen", id)
}

func optionalDate(s string) (*Date, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := ParseDate(s)
	if err != nil {
		return nil, apperr.Validation("dob: %v", err)
	}
	return &d, nil
}

func nonNil[T any](items []*T) []*T {
	if items == nil {
		return []*T{}
	}
	return items
}
