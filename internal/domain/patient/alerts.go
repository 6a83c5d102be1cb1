package patient

import (
	"strings"

	"github.com/samber/lo"
)

// SplitAlertText splits comma-separated free text into trimmed, non-empty
// entries in their original order. Repeated entries are kept.
func SplitAlertText(text string) []string {
	return lo.FilterMap(strings.Split(text, ","), func(item string, _ int) (string, bool) {
		item = strings.TrimSpace(item)
		return item, item != ""
	})
}

// DeriveAlerts turns one free-text field into active alerts of the given
// kind.
func DeriveAlerts(patientID, kind, text string) []*MedicalAlert {
	return lo.Map(SplitAlertText(text), func(value string, _ int) *MedicalAlert {
		return &MedicalAlert{
			PatientID:  patientID,
			AlertType:  kind,
			AlertValue: value,
			IsActive:   true,
		}
	})
}

// BuildAlerts derives the intake alerts: allergies first, then conditions.
func BuildAlerts(patientID string, allergies, conditions *string) []*MedicalAlert {
	return append(
		DeriveAlerts(patientID, AlertTypeAllergy, lo.FromPtr(allergies)),
		DeriveAlerts(patientID, AlertTypeCondition, lo.FromPtr(conditions))...,
	)
}
