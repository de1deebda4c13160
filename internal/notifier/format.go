package notifier

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pfrederiksen/seia-monitor/internal/project"
)

// FormatOptions controls how a change set is rendered.
type FormatOptions struct {
	// IncludeNew adds first-time records to the body alongside the
	// relevant transitions.
	IncludeNew bool

	// MaxLength truncates the body when positive. Webhook targets cap
	// payload sizes.
	MaxLength int
}

// Subject produces a one-line summary suitable for an email subject or a
// card title.
func Subject(cs *project.ChangeSet) string {
	var parts []string
	if n := len(cs.Relevant); n > 0 {
		parts = append(parts, fmt.Sprintf("%d relevant transition%s", n, plural(n)))
	}
	if n := len(cs.New); n > 0 {
		parts = append(parts, fmt.Sprintf("%d new project%s", n, plural(n)))
	}
	if len(parts) == 0 {
		return "SEIA monitor: no monitored changes"
	}
	return "SEIA monitor: " + strings.Join(parts, ", ")
}

// FormatBody renders the change set as a plain-text report.
func FormatBody(cs *project.ChangeSet, opts FormatOptions) string {
	var b strings.Builder

	if len(cs.Relevant) > 0 {
		b.WriteString("Relevant transitions:\n")
		for _, ch := range cs.Relevant {
			writeChange(&b, ch)
			if details, ok := cs.Details[ch.Identifier]; ok {
				writeDetails(&b, details)
			}
		}
	}

	if opts.IncludeNew && len(cs.New) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("New projects:\n")
		for _, r := range cs.New {
			fmt.Fprintf(&b, "- %s", r.Name)
			if r.Region != "" {
				fmt.Fprintf(&b, " (%s)", r.Region)
			}
			fmt.Fprintf(&b, ": %s\n", r.RawState)
			if r.DetailURL != "" {
				fmt.Fprintf(&b, "  %s\n", r.DetailURL)
			}
		}
	}

	body := b.String()
	if opts.MaxLength > 0 && len(body) > opts.MaxLength {
		body = truncate(body, opts.MaxLength)
	}
	return body
}

func writeChange(b *strings.Builder, ch *project.StateChange) {
	fmt.Fprintf(b, "- %s", ch.Name)
	if ch.Region != "" {
		fmt.Fprintf(b, " (%s)", ch.Region)
	}
	from := ch.PreviousRawState
	if from == "" {
		from = "nuevo"
	}
	fmt.Fprintf(b, ": %s -> %s\n", from, ch.NewRawState)
	if ch.DetailURL != "" {
		fmt.Fprintf(b, "  %s\n", ch.DetailURL)
	}
}

func writeDetails(b *strings.Builder, d *project.Details) {
	if d.InvestmentAmount != "" {
		fmt.Fprintf(b, "  Inversión: %s\n", d.InvestmentAmount)
	}
	if d.Titular.Name != "" {
		fmt.Fprintf(b, "  Titular: %s", d.Titular.Name)
		if d.Titular.Email != "" {
			fmt.Fprintf(b, " <%s>", d.Titular.Email)
		}
		b.WriteString("\n")
	}
	if d.Incomplete {
		b.WriteString("  (detalle incompleto)\n")
	}
}

// truncate cuts at a line boundary when one is close enough, marking the
// cut so readers know the report continues in the database. Cuts land on
// rune boundaries so the result stays valid UTF-8.
func truncate(body string, max int) string {
	const marker = "\n[truncated]"
	if max <= len(marker) {
		return body[:runeBoundary(body, max)]
	}
	cut := runeBoundary(body, max-len(marker))
	if idx := strings.LastIndex(body[:cut], "\n"); idx > cut/2 {
		cut = idx
	}
	return body[:cut] + marker
}

// runeBoundary backs i off to the start of the rune it falls inside.
func runeBoundary(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
