package project

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"time"
)

// Record represents one project row scraped from the registry listing
type Record struct {
	Identifier      string    `json:"identifier"`
	Name            string    `json:"name"`
	Titular         string    `json:"titular,omitempty"`
	Region          string    `json:"region,omitempty"`
	Type            string    `json:"type,omitempty"`
	SubmissionDate  string    `json:"submission_date,omitempty"`
	RawState        string    `json:"raw_state"`
	NormalizedState string    `json:"normalized_state"`
	DetailURL       string    `json:"detail_url,omitempty"`
	FirstSeen       time.Time `json:"first_seen,omitempty"`
	LastUpdated     time.Time `json:"last_updated,omitempty"`
}

// ContactInfo holds one contact block from a project detail page
type ContactInfo struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Details holds enrichment data extracted from a project detail page.
// All fields except Identifier are best-effort and may be empty.
type Details struct {
	Identifier       string      `json:"identifier"`
	FullName         string      `json:"full_name,omitempty"`
	ProjectType      string      `json:"project_type,omitempty"`
	InvestmentAmount string      `json:"investment_amount,omitempty"`
	Description      string      `json:"description,omitempty"`
	Titular          ContactInfo `json:"titular"`
	LegalRep         ContactInfo `json:"legal_rep"`
	Incomplete       bool        `json:"incomplete,omitempty"`
	ScrapedAt        time.Time   `json:"scraped_at,omitempty"`
}

// registry expedient ID patterns seen in detail URLs
var registryIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)id_expediente[=:](\d+)`),
	regexp.MustCompile(`(?i)expediente[/:](\d+)`),
	regexp.MustCompile(`(?i)proyecto[/:](\d+)`),
	regexp.MustCompile(`(?i)\bid[=:](\d+)`),
}

// ExtractRegistryID pulls the expedient ID out of a detail URL.
// Returns an empty string when no pattern matches.
func ExtractRegistryID(url string) string {
	if url == "" {
		return ""
	}
	for _, pat := range registryIDPatterns {
		if m := pat.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}

// HashIdentifier derives a content-hash identifier from fields expected to
// be immutable for a given project. State and free-text fields are excluded
// so re-scrapes stay stable while the project moves through the process.
func HashIdentifier(name, region, titular, submissionDate string) string {
	combined := NormalizeText(name) + "|" + NormalizeText(region) + "|" +
		NormalizeText(titular) + "|" + NormalizeText(submissionDate)
	sum := sha256.Sum256([]byte(combined))
	return fmt.Sprintf("hash_%x", sum[:8])
}

// ResolveIdentifier computes the stable identifier for a record: the
// embedded registry ID when the detail URL carries one, otherwise a content
// hash. Never derived from row position.
func ResolveIdentifier(r *Record) string {
	if id := ExtractRegistryID(r.DetailURL); id != "" {
		return "registry_" + id
	}
	return HashIdentifier(r.Name, r.Region, r.Titular, r.SubmissionDate)
}
