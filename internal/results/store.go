// Package results accumulates resolver records for the active query and
// derives per-category counts from them.
package results

import (
	"sort"

	"github.com/daviddao/dnsprop_viewer/internal/protocol"
)

// DefaultBadge is shown for a category whose first record has no flag.
const DefaultBadge = "🌐"

// CategoryCount is one category's share of the store.
type CategoryCount struct {
	Category string
	Count    int
	Badge    string // flag of the first record seen in the category
}

// Store is an append-only log of records, cleared per query.
// It is not safe for concurrent use; the session controller owns it.
type Store struct {
	records []protocol.Record
}

// Append adds r at the end. Duplicates are kept.
func (s *Store) Append(r protocol.Record) {
	s.records = append(s.records, r)
}

// Reset drops every record.
func (s *Store) Reset() {
	s.records = nil
}

func (s *Store) Len() int { return len(s.records) }

// Records returns a copy of the records in arrival order.
func (s *Store) Records() []protocol.Record {
	out := make([]protocol.Record, len(s.records))
	copy(out, s.records)
	return out
}

// CategoryCounts groups records by category, ordered by count descending
// then category name ascending.
func (s *Store) CategoryCounts() []CategoryCount {
	return Count(s.records)
}

// Count is CategoryCounts over an arbitrary slice.
func Count(records []protocol.Record) []CategoryCount {
	index := make(map[string]int)
	var counts []CategoryCount
	for _, r := range records {
		c := r.Category()
		i, ok := index[c]
		if !ok {
			badge := r.Flag
			if badge == "" {
				badge = DefaultBadge
			}
			index[c] = len(counts)
			counts = append(counts, CategoryCount{Category: c, Badge: badge})
			i = len(counts) - 1
		}
		counts[i].Count++
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Category < counts[j].Category
	})
	return counts
}

// Filter is the active category selection. The zero value selects all.
type Filter struct {
	category string
	set      bool
}

// Toggle selects c, or returns to all when c is already selected.
func (f *Filter) Toggle(c string) {
	if f.set && f.category == c {
		f.Clear()
		return
	}
	f.category, f.set = c, true
}

// Clear selects all categories.
func (f *Filter) Clear() {
	f.category, f.set = "", false
}

// Active returns the selected category and whether one is selected.
func (f Filter) Active() (string, bool) {
	return f.category, f.set
}

func (f Filter) IsAll() bool { return !f.set }

// Matches reports whether a record in category c passes the filter.
func (f Filter) Matches(c string) bool {
	return !f.set || f.category == c
}
