package emr

import (
	"encoding/json"
	"time"

	"github.com/ehr/emr/pkg/document"
)

// Record is one EMR section of a patient chart. There is at most one record
// per (patient, section type); saving again replaces the document.
type Record struct {
	ID          int64          `json:"id"`
	PatientID   string         `json:"patient_id"`
	VisitID     *int64         `json:"visit_id,omitempty"`
	SectionType string         `json:"section_type"`
	Data        document.Value `json:"data"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Lookup is the single-section read. A missing section encodes as
// {"exists":false}.
type Lookup struct {
	Exists bool `json:"exists"`
	*Record
}

// SaveRequest is the upsert body. A nil Data means the field was absent and
// stores an empty object; an explicit null is kept as null.
type SaveRequest struct {
	Data      *document.Value `json:"data"`
	CreatedBy string          `json:"createdBy"`
}

func (r *SaveRequest) UnmarshalJSON(b []byte) error {
	var raw struct {
		Data      json.RawMessage `json:"data"`
		CreatedBy string          `json:"createdBy"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.CreatedBy = raw.CreatedBy
	r.Data = nil
	if raw.Data != nil {
		v, err := document.Parse(raw.Data)
		if err != nil {
			return err
		}
		r.Data = &v
	}
	return nil
}
