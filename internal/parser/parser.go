// Package parser converts raw listing-page markup into project records.
// The registry's markup drifts over time, so the parser locates the results
// table through multiple candidate selectors and maps columns by fuzzy
// header matching instead of fixed indices.
package parser

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pfrederiksen/seia-monitor/internal/project"
)

var (
	// ErrNoTable means no results table could be located in the markup.
	ErrNoTable = errors.New("no results table found in markup")

	// ErrNoRows means a results table was located but yielded zero
	// records and the markup carries no explicit no-results notice.
	ErrNoRows = errors.New("results table parsed to zero records")
)

// candidate selectors for the results table, in priority order
var tableSelectors = []string{
	"table#datatable-proyectos",
	"table.tabla_resultados",
	"table#resultados",
	`table[class*="result"]`,
	`table[id*="result"]`,
	"div.resultados table",
}

// no-results notices the registry renders for a legitimately empty search
var emptyResultMarkers = []string{
	"no se encontraron",
	"no existen proyectos",
	"sin resultados",
	"0 resultados",
}

// Options controls listing parsing.
type Options struct {
	// BaseURL resolves relative detail links to absolute URLs.
	BaseURL string

	// MaxRecords caps the rows taken from one page. Zero means no cap.
	MaxRecords int
}

// Result is the outcome of parsing one listing page.
type Result struct {
	Records []*project.Record

	// Warnings carries non-fatal parsing problems (unmatched headers,
	// skipped rows). Partial data is preferred to a hard failure.
	Warnings []string
}

// columnMap holds the header-resolved index of each logical field.
// -1 means the column was not found.
type columnMap struct {
	name    int
	titular int
	region  int
	typ     int
	date    int
	state   int
}

func newColumnMap() columnMap {
	return columnMap{name: -1, titular: -1, region: -1, typ: -1, date: -1, state: -1}
}

// fieldAliases maps each logical field to normalized header substrings.
var fieldAliases = []struct {
	field   string
	aliases []string
	assign  func(*columnMap, int)
	isSet   func(columnMap) bool
}{
	// state first: "estado" headers sometimes also mention "proyecto"
	{"state", []string{"estado"}, func(c *columnMap, i int) { c.state = i }, func(c columnMap) bool { return c.state >= 0 }},
	{"name", []string{"nombre"}, func(c *columnMap, i int) { c.name = i }, func(c columnMap) bool { return c.name >= 0 }},
	{"titular", []string{"titular", "empresa", "responsable"}, func(c *columnMap, i int) { c.titular = i }, func(c columnMap) bool { return c.titular >= 0 }},
	{"region", []string{"region", "zona"}, func(c *columnMap, i int) { c.region = i }, func(c columnMap) bool { return c.region >= 0 }},
	{"type", []string{"tipo", "tipologia", "categoria"}, func(c *columnMap, i int) { c.typ = i }, func(c columnMap) bool { return c.typ >= 0 }},
	{"date", []string{"fecha", "ingreso", "presentacion"}, func(c *columnMap, i int) { c.date = i }, func(c columnMap) bool { return c.date >= 0 }},
}

// mapHeaders assigns column indices by fuzzy-matching header text. Missing
// non-identity fields produce warnings, not errors.
func mapHeaders(headers []string) (columnMap, []string) {
	cols := newColumnMap()
	var warnings []string

	for idx, header := range headers {
		norm := project.NormalizeText(header)
		if norm == "" {
			continue
		}
		for _, fa := range fieldAliases {
			if fa.isSet(cols) {
				continue
			}
			for _, alias := range fa.aliases {
				if strings.Contains(norm, alias) {
					fa.assign(&cols, idx)
					break
				}
			}
			if fa.isSet(cols) {
				break
			}
		}
	}

	for _, fa := range fieldAliases {
		if !fa.isSet(cols) {
			warnings = append(warnings, fmt.Sprintf("header for %q not matched, field left empty", fa.field))
		}
	}
	return cols, warnings
}

// findTable tries the candidate selectors, then falls back to the first
// table with a populated tbody.
func findTable(doc *goquery.Document) *goquery.Selection {
	for _, sel := range tableSelectors {
		if table := doc.Find(sel).First(); table.Length() > 0 {
			return table
		}
	}
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		if table.Find("tbody tr").Length() > 0 {
			found = table
			return false
		}
		return true
	})
	return found
}

func cellText(cells *goquery.Selection, idx int) string {
	if idx < 0 || idx >= cells.Length() {
		return ""
	}
	return strings.TrimSpace(cells.Eq(idx).Text())
}

// resolveURL makes href absolute against base. Already-absolute and
// unparseable hrefs pass through unchanged.
func resolveURL(base, href string) string {
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Host == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}

// hasEmptyResultNotice reports whether the markup carries the registry's
// explicit no-results message. Distinguishes a legitimately empty search
// from a structural parse failure.
func hasEmptyResultNotice(doc *goquery.Document) bool {
	body := project.NormalizeText(doc.Find("body").Text())
	for _, marker := range emptyResultMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// ParseListing extracts project records from listing-page markup. A missing
// table or a table yielding zero rows without a no-results notice is an
// error; individually broken rows are skipped with a warning.
func ParseListing(markup string, opts Options) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parsing markup: %w", err)
	}

	table := findTable(doc)
	if table == nil {
		if hasEmptyResultNotice(doc) {
			return &Result{}, nil
		}
		return nil, ErrNoTable
	}

	headers := extractHeaders(table)
	if len(headers) == 0 {
		return nil, ErrNoTable
	}

	cols, warnings := mapHeaders(headers)
	result := &Result{Warnings: warnings}
	if cols.name < 0 || cols.state < 0 {
		// Without identity and state columns no row is usable.
		return nil, fmt.Errorf("%w: name/state headers not matched in %v", ErrNoTable, headers)
	}

	rows := table.Find("tbody tr")
	if rows.Length() == 0 {
		// No tbody: all tr except the header row
		rows = table.Find("tr").Slice(1, goquery.ToEnd)
	}

	rows.EachWithBreak(func(rowIdx int, row *goquery.Selection) bool {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return true // separator or empty row
		}

		name := cellText(cells, cols.name)
		rawState := cellText(cells, cols.state)
		if name == "" || rawState == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: missing name or state, skipped", rowIdx))
			return true
		}

		rec := &project.Record{
			Name:            name,
			Titular:         cellText(cells, cols.titular),
			Region:          cellText(cells, cols.region),
			Type:            cellText(cells, cols.typ),
			SubmissionDate:  cellText(cells, cols.date),
			RawState:        rawState,
			NormalizedState: project.NormalizeState(rawState),
		}

		// Detail link lives in the name cell; fall back to any row anchor.
		href, ok := cells.Eq(cols.name).Find("a").First().Attr("href")
		if !ok {
			href, _ = row.Find("a").First().Attr("href")
		}
		rec.DetailURL = resolveURL(opts.BaseURL, href)
		rec.Identifier = project.ResolveIdentifier(rec)

		result.Records = append(result.Records, rec)
		return opts.MaxRecords == 0 || len(result.Records) < opts.MaxRecords
	})

	if len(result.Records) == 0 {
		if hasEmptyResultNotice(doc) {
			return result, nil
		}
		return nil, ErrNoRows
	}
	return result, nil
}

func extractHeaders(table *goquery.Selection) []string {
	var headers []string
	headerCells := table.Find("thead th, thead td")
	if headerCells.Length() == 0 {
		headerCells = table.Find("tr").First().Find("th, td")
	}
	headerCells.Each(func(_ int, cell *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(cell.Text()))
	})
	return headers
}

// HasResults reports whether the markup looks like a valid listing page:
// either a populated results table or an explicit no-results notice. The
// auto fetcher uses this to decide whether the HTTP response deserves a
// browser retry.
func HasResults(markup string) bool {
	if len(markup) < 100 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return false
	}
	if table := findTable(doc); table != nil {
		return table.Find("tbody tr").Length() > 0 || table.Find("tr").Length() > 1
	}
	return hasEmptyResultNotice(doc)
}

var (
	pageOfPattern  = regexp.MustCompile(`(?i)p[aá]gina\s+\d+\s+de\s+(\d+)`)
	rangeOfPattern = regexp.MustCompile(`(?i)(\d+)\s*-\s*(\d+)\s+de\s+(\d+)\s+resultado`)
)

// DetectTotalPages reads the pagination notice from listing markup.
// Returns 1 when no pagination is detected.
func DetectTotalPages(markup string) int {
	if m := pageOfPattern.FindStringSubmatch(markup); m != nil {
		if total, err := strconv.Atoi(m[1]); err == nil && total > 0 {
			return total
		}
	}
	if m := rangeOfPattern.FindStringSubmatch(markup); m != nil {
		first, _ := strconv.Atoi(m[1])
		last, _ := strconv.Atoi(m[2])
		total, _ := strconv.Atoi(m[3])
		perPage := last - first + 1
		if perPage > 0 && total > 0 {
			return (total + perPage - 1) / perPage
		}
	}
	return 1
}
