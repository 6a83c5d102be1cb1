package patient

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/platform/apperr"
	"github.com/ehr/emr/internal/platform/db"
)

const constraintMRNumber = "patient_mr_number_key"

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

const patientCols = `p.id, p.mr_number, p.name, p.parent_info, p.age, p.gender, p.dob,
	p.mobile, p.city, p.state, p.photo, p.purpose, p.visit_type,
	p.allergies, p.conditions, p.assigned_to, p.last_visit_date, p.last_clinic, p.status,
	(SELECT COUNT(*) FROM visit v WHERE v.patient_id = p.id) AS visit_count,
	p.created_at, p.updated_at`

func (r *patientRepoPG) NextID(ctx context.Context) (string, error) {
	var n int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('patient_number_seq')`).Scan(&n); err != nil {
		return "", db.Classify("allocate patient id", err)
	}
	return fmt.Sprintf("P%06d", n), nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (
			id, mr_number, name, parent_info, age, gender, dob,
			mobile, city, state, photo, purpose, visit_type,
			allergies, conditions, assigned_to, last_visit_date, last_clinic, status
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,
			$8,$9,$10,$11,$12,$13,
			$14,$15,$16,$17,$18,$19
		)
		RETURNING created_at, updated_at`,
		p.ID, p.MRNumber, p.Name, p.ParentInfo, p.Age, p.Gender, dateArg(p.DOB),
		p.Mobile, p.City, p.State, p.Photo, p.Purpose, p.VisitType,
		p.Allergies, p.Conditions, p.AssignedTo, dateArg(p.LastVisitDate), p.LastClinic, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err, constraintMRNumber) {
		return apperr.Conflict("patient with MR number %q already exists", p.MRNumber)
	}
	return db.Classify("create patient", err)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id string) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient p WHERE p.id = $1`, id))
	if err != nil {
		return nil, db.Classify("patient "+id, err)
	}
	return p, nil
}

func (r *patientRepoPG) GetByMRNumber(ctx context.Context, mrNumber string) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient p WHERE p.mr_number = $1`, mrNumber))
	if err != nil {
		return nil, db.Classify(fmt.Sprintf("patient with MR number %q", mrNumber), err)
	}
	return p, nil
}

func (r *patientRepoPG) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patient WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, db.Classify("check patient", err)
	}
	return exists, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET
			name=$2, parent_info=$3, age=$4, gender=$5, dob=$6,
			mobile=$7, city=$8, state=$9, photo=$10, purpose=$11,
			visit_type=COALESCE(NULLIF($12, ''), visit_type),
			allergies=$13, conditions=$14,
			assigned_to=COALESCE(NULLIF($15, ''), assigned_to),
			status=COALESCE(NULLIF($16, ''), status),
			updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.ParentInfo, p.Age, p.Gender, dateArg(p.DOB),
		p.Mobile, p.City, p.State, p.Photo, p.Purpose,
		p.VisitType,
		p.Allergies, p.Conditions,
		p.AssignedTo,
		p.Status,
	)
	if err != nil {
		return db.Classify("update patient", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient %s", p.ID)
	}
	return nil
}

func (r *patientRepoPG) SyncLastVisit(ctx context.Context, id string, date Date, clinic string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET last_visit_date=$2, last_clinic=$3, visit_type=$4, updated_at=NOW()
		WHERE id = $1`,
		id, date.Time, clinic, VisitTypeReturn,
	)
	if err != nil {
		return db.Classify("sync last visit", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient %s", id)
	}
	return nil
}

// List pages newest first. A limit <= 0 returns every row from offset on.
func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, db.Classify("count patients", err)
	}

	// LIMIT NULL is LIMIT ALL
	var pageSize *int
	if limit > 0 {
		pageSize = &limit
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient p
		ORDER BY p.created_at DESC, p.id DESC LIMIT $1 OFFSET $2`, pageSize, offset)
	if err != nil {
		return nil, 0, db.Classify("list patients", err)
	}
	defer rows.Close()

	patients := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, db.Classify("list patients", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Classify("list patients", err)
	}
	return patients, total, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var dob, lastVisit *time.Time
	err := row.Scan(
		&p.ID, &p.MRNumber, &p.Name, &p.ParentInfo, &p.Age, &p.Gender, &dob,
		&p.Mobile, &p.City, &p.State, &p.Photo, &p.Purpose, &p.VisitType,
		&p.Allergies, &p.Conditions, &p.AssignedTo, &lastVisit, &p.LastClinic, &p.Status,
		&p.VisitCount,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.DOB = datePtr(dob)
	p.LastVisitDate = datePtr(lastVisit)
	return &p, nil
}

// -- Visit Repository --

type visitRepoPG struct {
	pool *pgxpool.Pool
}

func NewVisitRepo(pool *pgxpool.Pool) VisitRepository {
	return &visitRepoPG{pool: pool}
}

func (r *visitRepoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

const visitCols = `id, patient_id, visit_date, visit_time, visit_type, purpose, clinic, location,
	has_investigation, has_refraction, has_glaucoma, notes, created_at`

func (r *visitRepoPG) Create(ctx context.Context, v *Visit) error {
	tod, err := timeOfDay(v.VisitTime)
	if err != nil {
		return apperr.Validation("visit time: %v", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit (
			patient_id, visit_date, visit_time, visit_type, purpose, clinic, location,
			has_investigation, has_refraction, has_glaucoma, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id, created_at`,
		v.PatientID, v.VisitDate.Time, tod, v.VisitType, v.Purpose, v.Clinic, v.Location,
		v.HasInvestigation, v.HasRefraction, v.HasGlaucoma, v.Notes,
	).Scan(&v.ID, &v.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("patient %s", v.PatientID)
	}
	return db.Classify("create visit", err)
}

func (r *visitRepoPG) ListByPatient(ctx context.Context, patientID string) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+visitCols+` FROM visit
		WHERE patient_id = $1
		ORDER BY visit_date DESC, visit_time DESC, id DESC`, patientID)
	if err != nil {
		return nil, db.Classify("list visits", err)
	}
	defer rows.Close()

	visits := []*Visit{}
	for rows.Next() {
		var v Visit
		var date time.Time
		var tod pgtype.Time
		if err := rows.Scan(
			&v.ID, &v.PatientID, &date, &tod, &v.VisitType, &v.Purpose, &v.Clinic, &v.Location,
			&v.HasInvestigation, &v.HasRefraction, &v.HasGlaucoma, &v.Notes, &v.CreatedAt,
		); err != nil {
			return nil, db.Classify("list visits", err)
		}
		v.VisitDate = DateOf(date)
		v.VisitTime = formatTimeOfDay(tod)
		visits = append(visits, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("list visits", err)
	}
	return visits, nil
}

// -- Alert Repository --

type alertRepoPG struct {
	pool *pgxpool.Pool
}

func NewAlertRepo(pool *pgxpool.Pool) AlertRepository {
	return &alertRepoPG{pool: pool}
}

func (r *alertRepoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

func (r *alertRepoPG) Create(ctx context.Context, a *MedicalAlert) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_alert (patient_id, alert_type, alert_value, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		a.PatientID, a.AlertType, a.AlertValue, a.IsActive,
	).Scan(&a.ID, &a.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("patient %s", a.PatientID)
	}
	return db.Classify("create alert", err)
}

func (r *alertRepoPG) ListActive(ctx context.Context, patientID string) ([]*MedicalAlert, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, alert_type, alert_value, is_active, created_at
		FROM medical_alert
		WHERE patient_id = $1 AND is_active
		ORDER BY created_at, id`, patientID)
	if err != nil {
		return nil, db.Classify("list alerts", err)
	}
	defer rows.Close()

	alerts := []*MedicalAlert{}
	for rows.Next() {
		var a MedicalAlert
		if err := rows.Scan(&a.ID, &a.PatientID, &a.AlertType, &a.AlertValue, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, db.Classify("list alerts", err)
		}
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("list alerts", err)
	}
	return alerts, nil
}

// -- helpers --

func dateArg(d *Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func datePtr(t *time.Time) *Date {
	if t == nil {
		return nil
	}
	d := DateOf(*t)
	return &d
}

func timeOfDay(s string) (pgtype.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return pgtype.Time{}, err
	}
	us := int64(t.Hour())*int64(time.Hour/time.Microsecond) +
		int64(t.Minute())*int64(time.Minute/time.Microsecond) +
		int64(t.Second())*int64(time.Second/time.Microsecond)
	return pgtype.Time{Microseconds: us, Valid: true}, nil
}

func formatTimeOfDay(t pgtype.Time) string {
	if !t.Valid {
		return ""
	}
	d := time.Duration(t.Microseconds) * time.Microsecond
	return time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(d).Format(TimeLayout)
}
