package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/ehr/emr/internal/domain/emr"
	"github.com/ehr/emr/internal/platform/apperr"
	"github.com/ehr/emr/pkg/document"
)

func mustParse(t *testing.T, raw string) *document.Value {
	t.Helper()
	v, err := document.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return &v
}

func TestEMRSave_UpsertKeepsOneRowPerSection(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	p := s.createPatient(t, "MR-EMR1")

	first, created, err := s.emr.Save(ctx, p.ID, "refraction", &emr.SaveRequest{
		Data:      mustParse(t, `{"od":{"sph":-1.25}}`),
		CreatedBy: "Dr. Iyer",
	})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if !created {
		t.Error("expected the first save to create the row")
	}

	second, created, err := s.emr.Save(ctx, p.ID, "refraction", &emr.SaveRequest{
		Data:      mustParse(t, `{"od":{"sph":-1.5}}`),
		CreatedBy: "Dr. Someone Else",
	})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if created {
		t.Error("expected the second save to replace the row")
	}
	if second.ID != first.ID {
		t.Errorf("expected the same row id, got %d and %d", first.ID, second.ID)
	}
	if second.CreatedBy != "Dr. Iyer" {
		t.Errorf("expected the original author to be kept, got %s", second.CreatedBy)
	}
	if n := s.count(t, "emr_record", p.ID); n != 1 {
		t.Errorf("expected one row for the section, got %d", n)
	}

	got, err := s.emr.Get(ctx, p.ID, "refraction")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	raw, _ := got.Data.MarshalJSON()
	if string(raw) != `{"od":{"sph":-1.5}}` {
		t.Errorf("expected the replaced document, got %s", raw)
	}
}

func TestEMRSave_PreservesKeyOrderAndNumbers(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	p := s.createPatient(t, "MR-EMR2")

	const doc = `{"zeta":1,"alpha":{"y":true,"b":[14.50,null,"x"]},"mid":"text"}`
	if _, _, err := s.emr.Save(ctx, p.ID, "examination", &emr.SaveRequest{Data: mustParse(t, doc)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.emr.Get(ctx, p.ID, "examination")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Exists {
		t.Fatal("expected the section to exist")
	}
	raw, err := got.Data.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != doc {
		t.Errorf("document changed on round trip:\n got %s\nwant %s", raw, doc)
	}
	if got.CreatedBy != "system" {
		t.Errorf("expected default author system, got %s", got.CreatedBy)
	}
}

func TestEMRSave_UnknownPatient(t *testing.T) {
	s := newServices(t)

	_, _, err := s.emr.Save(context.Background(), "P999999", "vision", &emr.SaveRequest{})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEMRGetAllAndDelete(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	p := s.createPatient(t, "MR-EMR3")
	other := s.createPatient(t, "MR-EMR4")

	for _, section := range []string{"vision", "diagnosis", "plan"} {
		if _, _, err := s.emr.Save(ctx, p.ID, section, &emr.SaveRequest{}); err != nil {
			t.Fatalf("save %s: %v", section, err)
		}
	}
	if _, _, err := s.emr.Save(ctx, other.ID, "vision", &emr.SaveRequest{}); err != nil {
		t.Fatalf("save other: %v", err)
	}

	all, err := s.emr.GetAll(ctx, p.ID)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(all))
	}
	if all["diagnosis"] == nil || all["diagnosis"].Data.Len() != 0 {
		t.Errorf("expected an empty diagnosis document, got %+v", all["diagnosis"])
	}

	deleted, err := s.emr.Delete(ctx, p.ID, "vision")
	if err != nil || !deleted {
		t.Fatalf("expected delete to remove the row, got deleted=%v err=%v", deleted, err)
	}
	deleted, err = s.emr.Delete(ctx, p.ID, "vision")
	if err != nil || deleted {
		t.Errorf("expected a repeat delete to be a no-op, got deleted=%v err=%v", deleted, err)
	}

	got, err := s.emr.Get(ctx, p.ID, "vision")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Exists {
		t.Error("expected the deleted section to be gone")
	}
	if n := s.count(t, "emr_record", other.ID); n != 1 {
		t.Errorf("expected the other patient's section untouched, got %d rows", n)
	}
}
