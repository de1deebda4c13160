package project

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes combining marks after NFD decomposition, turning
// "Calificación" into "Calificacion".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeText canonicalizes a string for comparison: trims, collapses
// whitespace, lowercases, strips diacritics and control characters.
// Comparisons must never be sensitive to casing or accenting drift in the
// source markup.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	normalized := strings.Join(strings.Fields(text), " ")
	normalized = strings.ToLower(normalized)
	if out, _, err := transform.String(stripMarks, normalized); err == nil {
		normalized = out
	}
	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if unicode.In(r, unicode.C) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Canonical state tokens
const (
	StateEnAdmision               = "en_admision"
	StateEnCalificacionActivo     = "en_calificacion_activo"
	StateEnCalificacionSuspendido = "en_calificacion_suspendido"
	StateAprobado                 = "aprobado"
	StateRechazado                = "rechazado"
	StateDesistido                = "desistido"
	StateNoAdmitido               = "no_admitido"
	StateOtro                     = "otro"
)

// NormalizeState maps a raw state string as shown on the site to a
// canonical token. Unrecognized states collapse to StateOtro rather than
// failing, so new registry wording never aborts a run.
func NormalizeState(raw string) string {
	s := NormalizeText(raw)
	if s == "" {
		return StateOtro
	}
	switch {
	case strings.Contains(s, "no admitido"):
		return StateNoAdmitido
	case strings.Contains(s, "admision"):
		return StateEnAdmision
	case strings.Contains(s, "calificacion"):
		if strings.Contains(s, "activo") || s == "en calificacion" {
			return StateEnCalificacionActivo
		}
		return StateEnCalificacionSuspendido
	case strings.Contains(s, "aprobado") || strings.Contains(s, "favorable") && !strings.Contains(s, "desfavorable"):
		return StateAprobado
	case strings.Contains(s, "rechazado") || strings.Contains(s, "desfavorable"):
		return StateRechazado
	case strings.Contains(s, "desistido") || strings.Contains(s, "desiste"):
		return StateDesistido
	}
	return StateOtro
}

// StateToken converts free-form state text to the underscore form used in
// history entries and transition configuration: lowercased, diacritics
// stripped, internal whitespace collapsed to single underscores.
func StateToken(raw string) string {
	return strings.ReplaceAll(NormalizeText(raw), " ", "_")
}
