package patient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	VisitTypeNew    = "N"
	VisitTypeReturn = "R"

	DefaultAssignedTo = "Unassigned"
	DefaultStatus     = "Waiting"

	AlertTypeAllergy   = "allergy"
	AlertTypeCondition = "condition"

	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Date is a calendar day serialised as YYYY-MM-DD.
type Date struct {
	time.Time
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp (the date part is
// kept).
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return Date{t}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateOf(t), nil
	}
	return Date{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
}

func (d Date) String() string { return d.Format(DateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// OptionalInt accepts a JSON number or a numeric string, as intake forms
// send either. null and "" leave it unset.
type OptionalInt struct {
	Int int
	Set bool
}

func (o *OptionalInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*o = OptionalInt{}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid integer %q", raw)
	}
	*o = OptionalInt{Int: n, Set: true}
	return nil
}

func (o OptionalInt) Ptr() *int {
	if !o.Set {
		return nil
	}
	n := o.Int
	return &n
}

// Patient maps to the patient table. VisitCount is computed on read.
type Patient struct {
	ID            string    `json:"id"`
	MRNumber      string    `json:"mr_number"`
	Name          string    `json:"name"`
	ParentInfo    *string   `json:"parent_info"`
	Age           *int      `json:"age"`
	Gender        *string   `json:"gender"`
	DOB           *Date     `json:"dob"`
	Mobile        *string   `json:"mobile"`
	City          *string   `json:"city"`
	State         *string   `json:"state"`
	Photo         *string   `json:"photo"`
	Purpose       *string   `json:"purpose"`
	VisitType     string    `json:"visit_type"`
	Allergies     *string   `json:"allergies"`
	Conditions    *string   `json:"conditions"`
	AssignedTo    string    `json:"assigned_to"`
	LastVisitDate *Date     `json:"last_visit_date"`
	LastClinic    *string   `json:"last_clinic"`
	Status        string    `json:"status"`
	VisitCount    int       `json:"visit_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Visit maps to the visit table. Rows are never updated.
type Visit struct {
	ID               int64     `json:"id"`
	PatientID        string    `json:"patient_id"`
	VisitDate        Date      `json:"visit_date"`
	VisitTime        string    `json:"visit_time"`
	VisitType        string    `json:"visit_type"`
	Purpose          *string   `json:"purpose"`
	Clinic           *string   `json:"clinic"`
	Location         *string   `json:"location"`
	HasInvestigation bool      `json:"has_investigation"`
	HasRefraction    bool      `json:"has_refraction"`
	HasGlaucoma      bool      `json:"has_glaucoma"`
	Notes            *string   `json:"notes"`
	CreatedAt        time.Time `json:"created_at"`
}

// MedicalAlert maps to the medical_alert table.
type MedicalAlert struct {
	ID         int64     `json:"id"`
	PatientID  string    `json:"patient_id"`
	AlertType  string    `json:"alert_type"`
	AlertValue string    `json:"alert_value"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Detail is the aggregated read view of one patient.
type Detail struct {
	*Patient
	VisitHistory  []*Visit        `json:"visitHistory"`
	MedicalAlerts []*MedicalAlert `json:"medicalAlerts"`
}

// MRLookup answers the intake duplicate check.
type MRLookup struct {
	Exists  bool    `json:"exists"`
	Patient *Detail `json:"patient,omitempty"`
}

// -- Requests (camelCase, as sent by the intake form) --

type CreatePatientRequest struct {
	MRNumber   string      `json:"mrNumber"`
	Name       string      `json:"name"`
	ParentInfo *string     `json:"parentInfo"`
	Age        OptionalInt `json:"age"`
	Gender     *string     `json:"gender"`
	DOB        string      `json:"dob"`
	Mobile     *string     `json:"mobile"`
	City       *string     `json:"city"`
	State      *string     `json:"state"`
	Photo      *string     `json:"photo"`
	Purpose    *string     `json:"purpose"`
	VisitType  string      `json:"visitType"`
	Allergies  *string     `json:"allergies"`
	Conditions *string     `json:"conditions"`
	AssignedTo string      `json:"assignedTo"`
	Status     string      `json:"status"`
	Clinic     string      `json:"clinic"`
	Location   string      `json:"location"`
}

// UpdatePatientRequest replaces every mutable field. Empty visitType,
// assignedTo and status keep their stored values.
type UpdatePatientRequest struct {
	Name       string      `json:"name"`
	ParentInfo *string     `json:"parentInfo"`
	Age        OptionalInt `json:"age"`
	Gender     *string     `json:"gender"`
	DOB        string      `json:"dob"`
	Mobile     *string     `json:"mobile"`
	City       *string     `json:"city"`
	State      *string     `json:"state"`
	Photo      *string     `json:"photo"`
	Purpose    *string     `json:"purpose"`
	VisitType  string      `json:"visitType"`
	Allergies  *string     `json:"allergies"`
	Conditions *string     `json:"conditions"`
	AssignedTo string      `json:"assignedTo"`
	Status     string      `json:"status"`
}

type LogVisitRequest struct {
	VisitType        string  `json:"visitType"`
	Purpose          *string `json:"purpose"`
	Clinic           string  `json:"clinic"`
	Location         string  `json:"location"`
	HasInvestigation bool    `json:"hasInvestigation"`
	HasRefraction    bool    `json:"hasRefraction"`
	HasGlaucoma      bool    `json:"hasGlaucoma"`
	Notes            *string `json:"notes"`
}

type AddAlertRequest struct {
	AlertType  string `json:"alertType"`
	AlertValue string `json:"alertValue"`
}
