package project

import (
	"strings"
	"testing"
)

func TestExtractRegistryID(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"expediente query param", "https://seia.sea.gob.cl/expediente/ficha/fichaPrincipal.php?modo=normal&id_expediente=2159876549", "2159876549"},
		{"expediente path", "https://seia.sea.gob.cl/expediente/12345", "12345"},
		{"proyecto path", "https://seia.sea.gob.cl/proyecto/98765", "98765"},
		{"bare id param", "https://seia.sea.gob.cl/ficha.php?id=555", "555"},
		{"no id", "https://seia.sea.gob.cl/busqueda/buscarProyectoResumen.php", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractRegistryID(tt.url); got != tt.expected {
				t.Errorf("ExtractRegistryID(%q) = %q, want %q", tt.url, got, tt.expected)
			}
		})
	}
}

func TestResolveIdentifier(t *testing.T) {
	t.Run("prefers registry id", func(t *testing.T) {
		rec := &Record{
			Name:      "Parque Solar Atacama",
			DetailURL: "https://seia.sea.gob.cl/expediente/ficha/fichaPrincipal.php?id_expediente=100",
		}
		if got := ResolveIdentifier(rec); got != "registry_100" {
			t.Errorf("expected registry_100, got %q", got)
		}
	})

	t.Run("falls back to content hash", func(t *testing.T) {
		rec := &Record{
			Name:           "Parque Solar Atacama",
			Region:         "Antofagasta",
			Titular:        "Energía Andina SpA",
			SubmissionDate: "01/03/2026",
		}
		got := ResolveIdentifier(rec)
		if !strings.HasPrefix(got, "hash_") {
			t.Fatalf("expected hash_ prefix, got %q", got)
		}
		if len(got) != len("hash_")+16 {
			t.Errorf("expected 16 hex chars after prefix, got %q", got)
		}
	})

	t.Run("hash is stable under state and casing drift", func(t *testing.T) {
		a := &Record{Name: "Parque Solar Atacama", Region: "Antofagasta", Titular: "Energía Andina SpA", SubmissionDate: "01/03/2026", RawState: "En Calificación"}
		b := &Record{Name: "PARQUE  SOLAR ATACAMA", Region: "Antofagasta", Titular: "Energía Andina SpA", SubmissionDate: "01/03/2026", RawState: "Aprobado"}
		if ResolveIdentifier(a) != ResolveIdentifier(b) {
			t.Error("expected identical identifiers for the same project")
		}
	})

	t.Run("different projects never merge", func(t *testing.T) {
		a := &Record{Name: "Parque Solar Atacama", Region: "Antofagasta"}
		b := &Record{Name: "Parque Solar Atacama II", Region: "Antofagasta"}
		if ResolveIdentifier(a) == ResolveIdentifier(b) {
			t.Error("expected distinct identifiers")
		}
	})
}
