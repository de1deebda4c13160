// Package project defines the core data model for the SEIA monitor: scraped
// listing records, detail-page enrichment, state normalization, stable
// identity resolution, and the diff engine that classifies each record
// against the previous snapshot as new, unchanged or transitioned.
package project
