package emr

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/platform/apperr"
	"github.com/ehr/emr/internal/platform/db"
	"github.com/ehr/emr/pkg/document"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

// document is a json column; reading it as text keeps the stored key order.
const recordCols = `id, patient_id, visit_id, section_type, document::text, created_by, created_at, updated_at`

func (r *repoPG) Upsert(ctx context.Context, rec *Record) (bool, error) {
	body, err := rec.Data.MarshalJSON()
	if err != nil {
		return false, apperr.Validation("section document: %v", err)
	}

	var created bool
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO emr_record (patient_id, section_type, document, created_by)
		VALUES ($1, $2, $3::text::json, $4)
		ON CONFLICT (patient_id, section_type) DO UPDATE
			SET document = EXCLUDED.document, updated_at = NOW()
		RETURNING id, visit_id, created_by, created_at, updated_at, (xmax = 0) AS inserted`,
		rec.PatientID, rec.SectionType, string(body), rec.CreatedBy,
	).Scan(&rec.ID, &rec.VisitID, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt, &created)
	if db.IsForeignKeyViolation(err) {
		return false, apperr.NotFound("patient %s", rec.PatientID)
	}
	if err != nil {
		return false, db.Classify("save emr section", err)
	}
	return created, nil
}

func (r *repoPG) Get(ctx context.Context, patientID, sectionType string) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM emr_record WHERE patient_id = $1 AND section_type = $2`,
		patientID, sectionType))
	if err != nil {
		return nil, db.Classify(fmt.Sprintf("emr section %s for patient %s", sectionType, patientID), err)
	}
	return rec, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM emr_record WHERE patient_id = $1 ORDER BY section_type`, patientID)
	if err != nil {
		return nil, db.Classify("list emr sections", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, db.Classify("list emr sections", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("list emr sections", err)
	}
	return out, nil
}

func (r *repoPG) Delete(ctx context.Context, patientID, sectionType string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM emr_record WHERE patient_id = $1 AND section_type = $2`, patientID, sectionType)
	if err != nil {
		return false, db.Classify("delete emr section", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var body string
	if err := row.Scan(&rec.ID, &rec.PatientID, &rec.VisitID, &rec.SectionType, &body,
		&rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	data, err := document.Parse([]byte(body))
	if err != nil {
		return nil, apperr.Storage("decode emr section", err)
	}
	rec.Data = data
	return &rec, nil
}
