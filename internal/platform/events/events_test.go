package events

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w)

	evt := New(VisitLogged, "P000003", map[string]string{"clinic": "BLR"})
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}

	msg := w.msgs[0]
	if string(msg.Key) != "P000003" {
		t.Errorf("expected key P000003, got %s", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != VisitLogged {
		t.Errorf("expected event-type header, got %+v", msg.Headers)
	}

	var decoded struct {
		ID        string            `json:"id"`
		Type      string            `json:"type"`
		PatientID string            `json:"patient_id"`
		Data      map[string]string `json:"data"`
	}
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("invalid JSON payload: %v", err)
	}
	if decoded.ID == "" || decoded.Type != VisitLogged || decoded.Data["clinic"] != "BLR" {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(w)

	if err := p.Publish(context.Background(), New(PatientCreated, "P1", nil)); err == nil {
		t.Fatal("expected error")
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("expected writer closed, err=%v", err)
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	_ = r.Publish(context.Background(), New(PatientCreated, "P1", nil))
	_ = r.Publish(context.Background(), New(AlertAdded, "P1", nil))

	want := []string{PatientCreated, AlertAdded}
	if got := r.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if len(r.Events()) != 2 {
		t.Errorf("expected 2 events")
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), New(EMRSectionSaved, "P1", nil)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
