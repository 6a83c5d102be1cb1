package patient

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ehr/emr/internal/platform/apperr"
	"github.com/ehr/emr/internal/platform/cache"
)

// memStore backs the mock repositories so the fake transactor can snapshot
// and restore all three tables together.
type memStore struct {
	mu       sync.Mutex
	seq      int
	patients map[string]*Patient
	visits   []*Visit
	alerts   []*MedicalAlert
	nextID   int64
	now      func() time.Time

	failAlertCreate error
	failVisitCreate error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{patients: make(map[string]*Patient), now: now}
}

type snapshot struct {
	patients map[string]Patient
	visits   []*Visit
	alerts   []*MedicalAlert
}

func (m *memStore) snapshot() snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := snapshot{patients: make(map[string]Patient, len(m.patients))}
	for id, p := range m.patients {
		s.patients[id] = *p
	}
	s.visits = append([]*Visit(nil), m.visits...)
	s.alerts = append([]*MedicalAlert(nil), m.alerts...)
	return s
}

func (m *memStore) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients = make(map[string]*Patient, len(s.patients))
	for id, p := range s.patients {
		p := p
		m.patients[id] = &p
	}
	m.visits = s.visits
	m.alerts = s.alerts
}

func (m *memStore) visitCount(id string) int {
	n := 0
	for _, v := range m.visits {
		if v.PatientID == id {
			n++
		}
	}
	return n
}

// -- Transactor --

type memTx struct {
	store     *memStore
	commits   int
	rollbacks int
}

func (t *memTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := t.store.snapshot()
	if err := fn(ctx); err != nil {
		t.store.restore(snap)
		t.rollbacks++
		return err
	}
	t.commits++
	return nil
}

// -- Patient Repository --

type mockPatientRepo struct{ st *memStore }

func (r *mockPatientRepo) NextID(context.Context) (string, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.seq++
	return fmt.Sprintf("P%06d", r.st.seq), nil
}

func (r *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, existing := range r.st.patients {
		if existing.MRNumber == p.MRNumber {
			return apperr.Conflict("patient with MR number %q already exists", p.MRNumber)
		}
	}
	p.CreatedAt = r.st.now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	r.st.patients[p.ID] = &cp
	return nil
}

func (r *mockPatientRepo) GetByID(_ context.Context, id string) (*Patient, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	p, ok := r.st.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient %s", id)
	}
	cp := *p
	cp.VisitCount = r.st.visitCount(id)
	return &cp, nil
}

func (r *mockPatientRepo) GetByMRNumber(ctx context.Context, mr string) (*Patient, error) {
	r.st.mu.Lock()
	var id string
	for _, p := range r.st.patients {
		if p.MRNumber == mr {
			id = p.ID
		}
	}
	r.st.mu.Unlock()
	if id == "" {
		return nil, apperr.NotFound("patient with MR number %q", mr)
	}
	return r.GetByID(ctx, id)
}

func (r *mockPatientRepo) Exists(_ context.Context, id string) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	_, ok := r.st.patients[id]
	return ok, nil
}

func (r *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	existing, ok := r.st.patients[p.ID]
	if !ok {
		return apperr.NotFound("patient %s", p.ID)
	}
	existing.Name = p.Name
	existing.ParentInfo = p.ParentInfo
	existing.Age = p.Age
	existing.Gender = p.Gender
	existing.DOB = p.DOB
	existing.Mobile = p.Mobile
	existing.City = p.City
	existing.State = p.State
	existing.Photo = p.Photo
	existing.Purpose = p.Purpose
	existing.Allergies = p.Allergies
	existing.Conditions = p.Conditions
	if p.VisitType != "" {
		existing.VisitType = p.VisitType
	}
	if p.AssignedTo != "" {
		existing.AssignedTo = p.AssignedTo
	}
	if p.Status != "" {
		existing.Status = p.Status
	}
	existing.UpdatedAt = r.st.now()
	return nil
}

func (r *mockPatientRepo) SyncLastVisit(_ context.Context, id string, date Date, clinic string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	p, ok := r.st.patients[id]
	if !ok {
		return apperr.NotFound("patient %s", id)
	}
	d := date
	c := clinic
	p.LastVisitDate = &d
	p.LastClinic = &c
	p.VisitType = VisitTypeReturn
	return nil
}

func (r *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	all := make([]*Patient, 0, len(r.st.patients))
	for _, p := range r.st.patients {
		cp := *p
		cp.VisitCount = r.st.visitCount(p.ID)
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// -- Visit Repository --

type mockVisitRepo struct{ st *memStore }

func (r *mockVisitRepo) Create(_ context.Context, v *Visit) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.st.failVisitCreate != nil {
		return r.st.failVisitCreate
	}
	if _, ok := r.st.patients[v.PatientID]; !ok {
		return apperr.NotFound("patient %s", v.PatientID)
	}
	r.st.nextID++
	v.ID = r.st.nextID
	v.CreatedAt = r.st.now()
	cp := *v
	r.st.visits = append(r.st.visits, &cp)
	return nil
}

func (r *mockVisitRepo) ListByPatient(_ context.Context, patientID string) ([]*Visit, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*Visit
	for _, v := range r.st.visits {
		if v.PatientID == patientID {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.VisitDate.Equal(b.VisitDate.Time) {
			return a.VisitDate.After(b.VisitDate.Time)
		}
		if a.VisitTime != b.VisitTime {
			return a.VisitTime > b.VisitTime
		}
		return a.ID > b.ID
	})
	return out, nil
}

// -- Alert Repository --

type mockAlertRepo struct{ st *memStore }

func (r *mockAlertRepo) Create(_ context.Context, a *MedicalAlert) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.st.failAlertCreate != nil {
		return r.st.failAlertCreate
	}
	if _, ok := r.st.patients[a.PatientID]; !ok {
		return apperr.NotFound("patient %s", a.PatientID)
	}
	r.st.nextID++
	a.ID = r.st.nextID
	a.CreatedAt = r.st.now()
	cp := *a
	r.st.alerts = append(r.st.alerts, &cp)
	return nil
}

func (r *mockAlertRepo) ListActive(_ context.Context, patientID string) ([]*MedicalAlert, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*MedicalAlert
	for _, a := range r.st.alerts {
		if a.PatientID == patientID && a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

// -- Cache --

type memCache struct {
	mu      sync.Mutex
	entries map[string]*Detail
	gens    map[string]int64
	gets    int
	hits    int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*Detail), gens: make(map[string]int64)}
}

func (c *memCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	d, ok := c.entries[key]
	if !ok {
		return cache.ErrMiss
	}
	c.hits++
	*dest.(*Detail) = *d
	return nil
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value.(*Detail)
	return nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *memCache) Generation(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key], nil
}

func (c *memCache) Bump(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[key]++
	return c.gens[key], nil
}

func (c *memCache) Close() error { return nil }

// -- Clock --

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
