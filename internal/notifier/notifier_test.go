package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pfrederiksen/seia-monitor/internal/project"
)

func sampleChangeSet() *project.ChangeSet {
	return &project.ChangeSet{
		New: []*project.Record{{
			Identifier: "hash_aabbccdd00112233",
			Name:       "Planta Desaladora Norte",
			Region:     "Antofagasta",
			RawState:   "En Admisión",
		}},
		Relevant: []*project.StateChange{{
			Identifier:       "registry_100",
			Name:             "Parque Solar Quebrada Honda",
			Region:           "Coquimbo",
			DetailURL:        "https://seia.sea.gob.cl/expediente/ficha/fichaPrincipal.php?modo=normal&id_expediente=100",
			PreviousRawState: "En Calificación (Activo)",
			NewRawState:      "Aprobado",
			PreviousState:    project.StateEnCalificacionActivo,
			NewState:         project.StateAprobado,
			IsRelevant:       true,
			Timestamp:        time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		}},
		Details: map[string]*project.Details{
			"registry_100": {
				Identifier:       "registry_100",
				InvestmentAmount: "25 millones de dólares",
				Titular:          project.ContactInfo{Name: "Energía SpA", Email: "contacto@esqh.cl"},
			},
		},
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name string
		cs   *project.ChangeSet
		want string
	}{
		{"relevant and new", sampleChangeSet(), "SEIA monitor: 1 relevant transition, 1 new project"},
		{"empty", &project.ChangeSet{}, "SEIA monitor: no monitored changes"},
		{
			"plural",
			&project.ChangeSet{Relevant: []*project.StateChange{{}, {}}},
			"SEIA monitor: 2 relevant transitions",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Subject(tt.cs); got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatBody(t *testing.T) {
	body := FormatBody(sampleChangeSet(), FormatOptions{IncludeNew: true})

	for _, want := range []string{
		"Parque Solar Quebrada Honda (Coquimbo)",
		"En Calificación (Activo) -> Aprobado",
		"Inversión: 25 millones de dólares",
		"Titular: Energía SpA <contacto@esqh.cl>",
		"Planta Desaladora Norte",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestFormatBodyExcludesNewByDefault(t *testing.T) {
	body := FormatBody(sampleChangeSet(), FormatOptions{})

	if strings.Contains(body, "Planta Desaladora Norte") {
		t.Error("new records should be excluded unless requested")
	}
	if !strings.Contains(body, "Parque Solar Quebrada Honda") {
		t.Error("relevant transitions must always appear")
	}
}

func TestFormatBodyTruncates(t *testing.T) {
	cs := &project.ChangeSet{}
	for i := 0; i < 500; i++ {
		cs.Relevant = append(cs.Relevant, &project.StateChange{
			Name:        "Proyecto Minero con un Nombre Considerablemente Largo",
			NewRawState: "Aprobado",
		})
	}

	body := FormatBody(cs, FormatOptions{MaxLength: 1000})

	if len(body) > 1000 {
		t.Errorf("body length = %d, want <= 1000", len(body))
	}
	if !strings.HasSuffix(body, "[truncated]") {
		t.Error("expected truncation marker")
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	cs := &project.ChangeSet{}
	for i := 0; i < 200; i++ {
		cs.Relevant = append(cs.Relevant, &project.StateChange{
			Name:        "Ampliación Línea de Transmisión Eléctrica Cañón del Ñuble",
			NewRawState: "Aprobado",
		})
	}

	// Sweep byte limits so the cut lands inside multi-byte runes too.
	for max := 80; max < 120; max++ {
		body := FormatBody(cs, FormatOptions{MaxLength: max})
		if len(body) > max {
			t.Fatalf("MaxLength %d: body length = %d", max, len(body))
		}
		if !utf8.ValidString(body) {
			t.Fatalf("MaxLength %d: truncation produced invalid UTF-8: %q", max, body)
		}
	}
}

func TestDryRun(t *testing.T) {
	var buf bytes.Buffer
	d := &DryRun{Out: &buf}

	if err := d.Notify(context.Background(), sampleChangeSet()); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if !strings.Contains(buf.String(), "1 relevant transition") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	if err := d.Notify(context.Background(), &project.ChangeSet{}); err != nil {
		t.Fatalf("empty notify failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty change set wrote %q", buf.String())
	}
}

func TestWebhookDelivery(t *testing.T) {
	var received messageCard
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	w := NewWebhook(server.URL, false)
	if err := w.Notify(context.Background(), sampleChangeSet()); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	if received.Type != "MessageCard" {
		t.Errorf("card type = %q", received.Type)
	}
	if !strings.Contains(received.Text, "Parque Solar Quebrada Honda") {
		t.Errorf("card text = %q", received.Text)
	}
}

func TestWebhookStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad card", http.StatusBadRequest)
	}))
	defer server.Close()

	w := NewWebhook(server.URL, false)
	if err := w.Notify(context.Background(), sampleChangeSet()); err == nil {
		t.Fatal("expected error on 400 response")
	}
}

func TestWebhookSkipsEmpty(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	w := NewWebhook(server.URL, false)
	if err := w.Notify(context.Background(), &project.ChangeSet{}); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if called {
		t.Error("empty change set must not hit the webhook")
	}
}

func TestEmailDelivery(t *testing.T) {
	var received emailMessage
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	e := NewEmail(EmailOptions{
		APIURL: server.URL,
		APIKey: "secret-token",
		From:   "monitor@example.cl",
		To:     []string{"alerts@example.cl"},
	})
	if err := e.Notify(context.Background(), sampleChangeSet()); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	if auth != "Bearer secret-token" {
		t.Errorf("authorization = %q", auth)
	}
	if received.Subject != "SEIA monitor: 1 relevant transition, 1 new project" {
		t.Errorf("subject = %q", received.Subject)
	}
	if len(received.To) != 1 || received.To[0] != "alerts@example.cl" {
		t.Errorf("to = %v", received.To)
	}
}

func TestEmailAPIFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "invalid api key"})
	}))
	defer server.Close()

	e := NewEmail(EmailOptions{APIURL: server.URL, APIKey: "bad"})
	err := e.Notify(context.Background(), sampleChangeSet())
	if err == nil {
		t.Fatal("expected error on 401 response")
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("error = %v, want provider message included", err)
	}
}

type stubNotifier struct {
	name    string
	err     error
	called  int
	alerted int
}

func (s *stubNotifier) Name() string { return s.name }
func (s *stubNotifier) Notify(context.Context, *project.ChangeSet) error {
	s.called++
	return s.err
}
func (s *stubNotifier) Alert(context.Context, string, string) error {
	s.alerted++
	return s.err
}

func TestMultiContinuesPastFailures(t *testing.T) {
	failing := &stubNotifier{name: "webhook", err: errors.New("timeout")}
	working := &stubNotifier{name: "email"}

	m := NewMulti(failing, working)
	err := m.Notify(context.Background(), sampleChangeSet())

	if err == nil {
		t.Fatal("expected aggregated error")
	}
	var notifyErr *Error
	if !errors.As(err, &notifyErr) {
		t.Fatalf("err = %T, want *Error", err)
	}
	if notifyErr.Notifier != "webhook" {
		t.Errorf("failed notifier = %q", notifyErr.Notifier)
	}
	if working.called != 1 {
		t.Error("second channel must still be attempted")
	}
}

func TestMultiAlertFansOut(t *testing.T) {
	a := &stubNotifier{name: "a"}
	b := &stubNotifier{name: "b"}

	if err := NewMulti(a, b).Alert(context.Background(), "monitor quarantined", "details"); err != nil {
		t.Fatalf("alert failed: %v", err)
	}
	if a.alerted != 1 || b.alerted != 1 {
		t.Error("every channel should receive the alert")
	}
}

func TestWebhookAlert(t *testing.T) {
	var received messageCard
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	w := NewWebhook(server.URL, false)
	if err := w.Alert(context.Background(), "SEIA monitor: entering quarantine", "baseline frozen"); err != nil {
		t.Fatalf("alert failed: %v", err)
	}
	if received.Title != "SEIA monitor: entering quarantine" {
		t.Errorf("card title = %q", received.Title)
	}
	if received.ThemeColor == "2EB886" {
		t.Error("alert cards should not use the regular theme color")
	}
}

func TestMultiAllHealthy(t *testing.T) {
	a := &stubNotifier{name: "a"}
	b := &stubNotifier{name: "b"}

	if err := NewMulti(a, b).Notify(context.Background(), sampleChangeSet()); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if a.called != 1 || b.called != 1 {
		t.Error("every channel should be invoked once")
	}
}
