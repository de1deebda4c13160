package project

import (
	"sort"
	"time"
)

// Transition is a (from, to) pair of normalized state tokens.
type Transition struct {
	From string `json:"from" toml:"from"`
	To   string `json:"to" toml:"to"`
}

// DefaultMonitoredTransitions is the transition set notified when no
// configuration overrides it: a project leaving active qualification with
// an approval.
var DefaultMonitoredTransitions = []Transition{
	{From: StateEnCalificacionActivo, To: StateAprobado},
}

// StateChange is one append-only history entry: a project observed with a
// different normalized state than the previous snapshot, or a project seen
// for the first time (PreviousState empty).
type StateChange struct {
	Identifier       string    `json:"identifier"`
	Name             string    `json:"name"`
	Region           string    `json:"region,omitempty"`
	DetailURL        string    `json:"detail_url,omitempty"`
	PreviousRawState string    `json:"previous_raw_state,omitempty"`
	NewRawState      string    `json:"new_raw_state"`
	PreviousState    string    `json:"previous_state,omitempty"`
	NewState         string    `json:"new_state"`
	IsRelevant       bool      `json:"is_relevant"`
	Timestamp        time.Time `json:"timestamp"`
}

// ChangeSet is the diff engine's full output for one run: the proposed new
// snapshot, the history entries to append, and the relevant transitions
// that trigger enrichment and notification.
type ChangeSet struct {
	// Snapshot holds the records to upsert into the current view.
	// Identifiers absent from the scrape are left untouched by the store.
	Snapshot []*Record `json:"snapshot"`

	New      []*Record      `json:"new"`
	Changes  []*StateChange `json:"changes"`
	Relevant []*StateChange `json:"relevant"`

	// Details filled in by the enrichment step, keyed by identifier.
	Details map[string]*Details `json:"details,omitempty"`
}

// Empty reports whether the run produced nothing notable.
func (cs *ChangeSet) Empty() bool {
	return len(cs.New) == 0 && len(cs.Changes) == 0
}

// EnrichIdentifiers returns the identifiers needing detail enrichment:
// exactly those with a relevant transition.
func (cs *ChangeSet) EnrichIdentifiers() []string {
	ids := make([]string, 0, len(cs.Relevant))
	for _, ch := range cs.Relevant {
		ids = append(ids, ch.Identifier)
	}
	return ids
}

// DiffOptions controls change classification.
type DiffOptions struct {
	// Monitored is the transition set considered relevant. Defaults to
	// DefaultMonitoredTransitions when empty.
	Monitored []Transition

	// Now stamps history entries; defaults to time.Now().UTC().
	Now time.Time
}

func (o DiffOptions) monitored() map[Transition]bool {
	set := o.Monitored
	if len(set) == 0 {
		set = DefaultMonitoredTransitions
	}
	m := make(map[Transition]bool, len(set))
	for _, t := range set {
		m[t] = true
	}
	return m
}

// Diff compares the scraped records against the previous snapshot and
// classifies every current identifier as new, unchanged or transitioned.
// Identifiers present only in the previous snapshot are ignored: the
// listing is a recent-items view, so absence is not evidence of closure.
// Records are stamped in place: LastUpdated on every sighting, FirstSeen
// on the first one, and known identifiers inherit the previous FirstSeen.
func Diff(previous map[string]*Record, current []*Record, opts DiffOptions) *ChangeSet {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	monitored := opts.monitored()

	cs := &ChangeSet{
		Snapshot: make([]*Record, 0, len(current)),
		New:      make([]*Record, 0),
		Changes:  make([]*StateChange, 0),
		Relevant: make([]*StateChange, 0),
	}

	for _, rec := range current {
		cs.Snapshot = append(cs.Snapshot, rec)
		rec.LastUpdated = now

		prev, known := previous[rec.Identifier]
		if !known {
			rec.FirstSeen = now
			cs.New = append(cs.New, rec)
			cs.Changes = append(cs.Changes, &StateChange{
				Identifier:  rec.Identifier,
				Name:        rec.Name,
				Region:      rec.Region,
				DetailURL:   rec.DetailURL,
				NewRawState: rec.RawState,
				NewState:    rec.NormalizedState,
				Timestamp:   now,
			})
			continue
		}
		rec.FirstSeen = prev.FirstSeen

		if prev.NormalizedState == rec.NormalizedState {
			continue
		}

		change := &StateChange{
			Identifier:       rec.Identifier,
			Name:             rec.Name,
			Region:           rec.Region,
			DetailURL:        rec.DetailURL,
			PreviousRawState: prev.RawState,
			NewRawState:      rec.RawState,
			PreviousState:    prev.NormalizedState,
			NewState:         rec.NormalizedState,
			Timestamp:        now,
		}
		change.IsRelevant = monitored[Transition{From: change.PreviousState, To: change.NewState}]

		cs.Changes = append(cs.Changes, change)
		if change.IsRelevant {
			cs.Relevant = append(cs.Relevant, change)
		}
	}

	// Deterministic output regardless of scrape order
	sort.Slice(cs.New, func(i, j int) bool { return cs.New[i].Identifier < cs.New[j].Identifier })
	sort.Slice(cs.Changes, func(i, j int) bool { return cs.Changes[i].Identifier < cs.Changes[j].Identifier })
	sort.Slice(cs.Relevant, func(i, j int) bool { return cs.Relevant[i].Identifier < cs.Relevant[j].Identifier })

	return cs
}

// Dedupe drops records repeating an identifier already seen in the slice,
// keeping the first occurrence. Pagination overlap produces duplicates.
func Dedupe(records []*Record) []*Record {
	seen := make(map[string]bool, len(records))
	unique := make([]*Record, 0, len(records))
	for _, rec := range records {
		if seen[rec.Identifier] {
			continue
		}
		seen[rec.Identifier] = true
		unique = append(unique, rec)
	}
	return unique
}
