// Package detail enriches transitioned projects with detail-page data:
// investment amount, full description and contact blocks. Every
// sub-extraction is best-effort; a field that cannot be located is left
// empty rather than failing the record.
package detail

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pfrederiksen/seia-monitor/internal/project"
)

// containsLabel reports a case/diacritic-insensitive substring match.
func containsLabel(text, label string) bool {
	return strings.Contains(project.NormalizeText(text), project.NormalizeText(label))
}

// fieldValue locates a labeled value. The registry's detail pages use a
// Bootstrap row layout (label in col-md-3, value in col-md-9) but older
// expedients still render plain tables, so several structures are tried.
func fieldValue(doc *goquery.Document, label string) string {
	// Row layout: <div class="row"><div class="col-md-3"><span>Label</span></div>
	//             <div class="col-md-9"><h6>Value</h6></div></div>
	var value string
	doc.Find("span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
		if !containsLabel(span.Text(), label) {
			return true
		}
		row := span.Closest("div.row")
		if row.Length() == 0 {
			return true
		}
		valueDiv := row.Find(`div[class*="col-md-9"]`).First()
		if valueDiv.Length() == 0 {
			return true
		}
		for _, sel := range []string{"h6", "p"} {
			if node := valueDiv.Find(sel).First(); node.Length() > 0 {
				value = strings.TrimSpace(node.Text())
				return false
			}
		}
		value = strings.TrimSpace(valueDiv.Text())
		return false
	})
	if value != "" {
		return value
	}

	// Heading followed by the value in the next sibling
	doc.Find("h6, h5, h4, strong, b").EachWithBreak(func(_ int, heading *goquery.Selection) bool {
		if !containsLabel(heading.Text(), label) {
			return true
		}
		if next := heading.Next(); next.Length() > 0 {
			if text := strings.TrimSpace(next.Text()); text != "" {
				value = text
				return false
			}
		}
		return true
	})
	if value != "" {
		return value
	}

	// Plain two-column table rows
	doc.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return true
		}
		if containsLabel(cells.Eq(0).Text(), label) {
			value = strings.TrimSpace(cells.Eq(1).Text())
			return false
		}
		return true
	})
	return value
}

// description pulls the full project description: dedicated container
// first, then any justified-text block, then the labeled row.
func description(doc *goquery.Document) string {
	if div := doc.Find(`div[class*="sg-description-file"]`).First(); div.Length() > 0 {
		if text := strings.Join(strings.Fields(div.Text()), " "); len(text) > 20 {
			return text
		}
	}

	var found string
	doc.Find("div[style]").EachWithBreak(func(_ int, div *goquery.Selection) bool {
		style, _ := div.Attr("style")
		if !strings.Contains(style, "text-align: justify") && !strings.Contains(style, "text-align:justify") {
			return true
		}
		if text := strings.TrimSpace(div.Text()); len(text) > 100 {
			found = text
			return false
		}
		return true
	})
	if found != "" {
		return found
	}

	if text := fieldValue(doc, "Descripción del Proyecto"); len(text) > 20 {
		return text
	}
	return ""
}

// contactSection extracts one contact block (titular or legal
// representative) located by its section heading.
func contactSection(doc *goquery.Document, title string) project.ContactInfo {
	var info project.ContactInfo

	var container *goquery.Selection
	doc.Find("h2, h3").EachWithBreak(func(_ int, heading *goquery.Selection) bool {
		if !containsLabel(heading.Text(), title) {
			return true
		}
		if next := heading.NextAllFiltered("div").First(); next.Length() > 0 {
			container = next
			return false
		}
		return true
	})
	if container == nil {
		return info
	}

	container.Find("div.row").Each(func(_ int, row *goquery.Selection) {
		labelDiv := row.Find(`div[class*="col-md-3"]`).First()
		valueDiv := row.Find(`div[class*="col-md-9"]`).First()
		if labelDiv.Length() == 0 || valueDiv.Length() == 0 {
			return
		}
		label := project.NormalizeText(labelDiv.Text())
		value := strings.TrimSpace(valueDiv.Find("h6").First().Text())
		if value == "" {
			value = strings.TrimSpace(valueDiv.Text())
		}

		switch {
		case strings.Contains(label, "nombre"):
			info.Name = value
		case strings.Contains(label, "domicilio") || strings.Contains(label, "direcc"):
			info.Address = value
		case strings.Contains(label, "ciudad"):
			info.City = value
		case strings.Contains(label, "tel"):
			info.Phone = value
		case strings.Contains(label, "email") || strings.Contains(label, "correo"):
			// Prefer the mailto target over display text
			if href, ok := valueDiv.Find("a").First().Attr("href"); ok && strings.HasPrefix(href, "mailto:") {
				info.Email = strings.TrimSpace(strings.TrimPrefix(href, "mailto:"))
			} else {
				info.Email = value
			}
		}
	})

	return info
}

// parseDetails extracts every enrichment field from detail-page markup.
// Missing fields stay empty; the markup is never a reason to fail.
func parseDetails(markup, identifier string) *project.Details {
	details := &project.Details{Identifier: identifier}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		details.Incomplete = true
		return details
	}

	details.FullName = fieldValue(doc, "Nombre del Proyecto")
	if details.FullName == "" {
		details.FullName = strings.TrimSpace(doc.Find("title").First().Text())
	}
	details.ProjectType = fieldValue(doc, "Tipo de Proyecto")
	details.InvestmentAmount = fieldValue(doc, "Monto de Inversión")
	details.Description = description(doc)
	details.Titular = contactSection(doc, "Titular")
	details.LegalRep = contactSection(doc, "Representante Legal")

	return details
}
