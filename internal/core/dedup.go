package core

import (
	"sort"
	"strings"
	"time"
)

// DuplicateColumn is the flag column added when DedupOptions.MarkOnly is set.
const DuplicateColumn = "Deduplicated"

// DefaultWindowDays is the episode window used when none is configured.
const DefaultWindowDays = 30

// DedupOptions configures Deduplicate.
type DedupOptions struct {
	PatientColumn  string
	OrganismColumn string
	DateColumn     string
	WindowDays     int
	MarkOnly       bool
}

// episodeKey identifies one patient+organism episode.
type episodeKey struct {
	patient  string
	organism string
}

// episodeState is the last kept date for an episode. hasDate is false when
// the last kept row had no usable date.
type episodeState struct {
	date    time.Time
	hasDate bool
}

type dedupRow struct {
	index   int
	key     episodeKey
	date    time.Time
	hasDate bool
}

// Deduplicate keeps the first isolate per patient and organism within each
// window of WindowDays. A row is kept when no earlier row of its episode was
// kept, or when at least WindowDays separate it from the last kept date.
//
// Rows are processed in (patient, organism, date) order with missing dates
// last; the output keeps the input row order. Rows without a usable date are
// always kept and clear the episode reference. Rows with a blank patient or
// organism are always kept.
//
// When MarkOnly is set every row is returned with a "Deduplicated" column of
// "true"/"false". Otherwise duplicates are dropped. If any of the three
// columns is absent the dataset is returned unchanged. It returns the
// resulting dataset and the number of duplicate rows.
func Deduplicate(ds Dataset, opts DedupOptions) (Dataset, int) {
	if !ds.HasColumn(opts.PatientColumn) || !ds.HasColumn(opts.OrganismColumn) || !ds.HasColumn(opts.DateColumn) {
		return ds.Clone(), 0
	}
	window := opts.WindowDays
	if window < 0 {
		window = 0
	}

	rows := make([]dedupRow, len(ds.Rows))
	for i, r := range ds.Rows {
		date, ok := ParseDate(r.Value(opts.DateColumn))
		rows[i] = dedupRow{
			index: i,
			key: episodeKey{
				patient:  strings.TrimSpace(r.Value(opts.PatientColumn)),
				organism: strings.TrimSpace(r.Value(opts.OrganismColumn)),
			},
			date:    truncateDay(date),
			hasDate: ok,
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.key.patient != b.key.patient {
			return a.key.patient < b.key.patient
		}
		if a.key.organism != b.key.organism {
			return a.key.organism < b.key.organism
		}
		if a.hasDate != b.hasDate {
			return a.hasDate
		}
		return a.date.Before(b.date)
	})

	duplicate := make([]bool, len(ds.Rows))
	state := make(map[episodeKey]episodeState)
	count := 0
	for _, r := range rows {
		if r.key.patient == "" || r.key.organism == "" {
			continue
		}
		if !r.hasDate {
			state[r.key] = episodeState{}
			continue
		}
		last, seen := state[r.key]
		if !seen || !last.hasDate || daysBetween(last.date, r.date) >= window {
			state[r.key] = episodeState{date: r.date, hasDate: true}
			continue
		}
		duplicate[r.index] = true
		count++
	}

	if opts.MarkOnly {
		out := ds.Clone()
		out.Columns = withColumn(out.Columns, DuplicateColumn)
		for i, row := range out.Rows {
			if duplicate[i] {
				row[DuplicateColumn] = "true"
			} else {
				row[DuplicateColumn] = "false"
			}
		}
		return out, count
	}

	out := Dataset{
		Columns: append([]string(nil), ds.Columns...),
		Rows:    make([]Row, 0, len(ds.Rows)-count),
	}
	for i, row := range ds.Rows {
		if !duplicate[i] {
			out.Rows = append(out.Rows, row.Clone())
		}
	}
	return out, count
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns whole calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
