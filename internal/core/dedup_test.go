package core

import (
	"reflect"
	"testing"
)

var dedupCols = []string{"PatientID", "Organism", "Date", "Seq"}

func dedupOpts(window int, markOnly bool) DedupOptions {
	return DedupOptions{
		PatientColumn:  "PatientID",
		OrganismColumn: "Organism",
		DateColumn:     "Date",
		WindowDays:     window,
		MarkOnly:       markOnly,
	}
}

func seqs(ds Dataset) []string {
	out := make([]string, ds.Len())
	for i, r := range ds.Rows {
		out[i] = r.Value("Seq")
	}
	return out
}

func flags(ds Dataset) []string {
	out := make([]string, ds.Len())
	for i, r := range ds.Rows {
		out[i] = r.Value(DuplicateColumn)
	}
	return out
}

// ----------------------------------------------------------------------------
// Window law
// ----------------------------------------------------------------------------

func TestDeduplicate_WindowBoundary(t *testing.T) {
	tests := []struct {
		name      string
		second    string
		wantKept  int
		wantFlags []string
	}{
		{"exactly window apart", "2024-01-31", 2, []string{"false", "false"}},
		{"one day inside window", "2024-01-30", 1, []string{"false", "true"}},
		{"same day", "2024-01-01", 1, []string{"false", "true"}},
		{"well outside window", "2024-03-01", 2, []string{"false", "false"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := NewDataset(dedupCols, [][]string{
				{"P1", "ECO", "2024-01-01", "1"},
				{"P1", "ECO", tt.second, "2"},
			})

			filtered, dups := Deduplicate(ds, dedupOpts(30, false))
			if filtered.Len() != tt.wantKept {
				t.Errorf("kept %d rows, want %d", filtered.Len(), tt.wantKept)
			}
			if dups != 2-tt.wantKept {
				t.Errorf("duplicates = %d, want %d", dups, 2-tt.wantKept)
			}

			marked, _ := Deduplicate(ds, dedupOpts(30, true))
			if got := flags(marked); !reflect.DeepEqual(got, tt.wantFlags) {
				t.Errorf("flags = %v, want %v", got, tt.wantFlags)
			}
		})
	}
}

func TestDeduplicate_WindowMeasuredFromLastKept(t *testing.T) {
	// Day 0 kept, day 20 duplicate, day 35 kept (35 days after day 0), day 50 duplicate.
	ds := NewDataset(dedupCols, [][]string{
		{"P1", "ECO", "2024-01-01", "a"},
		{"P1", "ECO", "2024-01-21", "b"},
		{"P1", "ECO", "2024-02-05", "c"},
		{"P1", "ECO", "2024-02-20", "d"},
	})

	out, dups := Deduplicate(ds, dedupOpts(30, false))
	if got := seqs(out); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("kept %v, want [a c]", got)
	}
	if dups != 2 {
		t.Errorf("duplicates = %d, want 2", dups)
	}
}

// ----------------------------------------------------------------------------
// Keys, ordering and missing values
// ----------------------------------------------------------------------------

func TestDeduplicate_SeparateEpisodes(t *testing.T) {
	ds := NewDataset(dedupCols, [][]string{
		{"P1", "ECO", "2024-01-01", "1"},
		{"P2", "ECO", "2024-01-02", "2"},
		{"P1", "KPN", "2024-01-03", "3"},
		{"P1", "ECO", "2024-01-04", "4"},
	})

	out, _ := Deduplicate(ds, dedupOpts(30, false))
	if got := seqs(out); !reflect.DeepEqual(got, []string{"1", "2", "3"}) {
		t.Errorf("kept %v, want [1 2 3]", got)
	}
}

func TestDeduplicate_SortsByDateNotInputOrder(t *testing.T) {
	ds := NewDataset(dedupCols, [][]string{
		{"P1", "ECO", "2024-01-10", "late"},
		{"P1", "ECO", "2024-01-01", "early"},
	})

	out, _ := Deduplicate(ds, dedupOpts(30, true))
	if got := flags(out); !reflect.DeepEqual(got, []string{"true", "false"}) {
		t.Errorf("flags = %v, want [true false]", got)
	}
	if got := seqs(out); !reflect.DeepEqual(got, []string{"late", "early"}) {
		t.Errorf("order = %v, want input order", got)
	}
}

func TestDeduplicate_MissingDateNeverDuplicate(t *testing.T) {
	ds := NewDataset(dedupCols, [][]string{
		{"P1", "ECO", "2024-01-01", "1"},
		{"P1", "ECO", "", "2"},
		{"P1", "ECO", "unknown", "3"},
		{"P1", "ECO", "2024-01-02", "4"},
	})

	out, dups := Deduplicate(ds, dedupOpts(30, true))
	if got := flags(out); !reflect.DeepEqual(got, []string{"false", "false", "false", "true"}) {
		t.Errorf("flags = %v", got)
	}
	if dups != 1 {
		t.Errorf("duplicates = %d, want 1", dups)
	}
}

func TestDeduplicate_BlankKeysAlwaysKept(t *testing.T) {
	ds := NewDataset(dedupCols, [][]string{
		{"", "ECO", "2024-01-01", "1"},
		{"", "ECO", "2024-01-02", "2"},
		{"P1", "", "2024-01-01", "3"},
		{"P1", "", "2024-01-02", "4"},
	})

	out, dups := Deduplicate(ds, dedupOpts(30, false))
	if out.Len() != 4 || dups != 0 {
		t.Errorf("got %d rows, %d dups; want 4, 0", out.Len(), dups)
	}
}

func TestDeduplicate_MissingColumnReturnsUnchanged(t *testing.T) {
	ds := NewDataset([]string{"PatientID", "Organism"}, [][]string{
		{"P1", "ECO"},
		{"P1", "ECO"},
	})

	out, dups := Deduplicate(ds, dedupOpts(30, true))
	if out.Len() != 2 || dups != 0 || out.HasColumn(DuplicateColumn) {
		t.Errorf("dataset changed: %+v", out)
	}
}

func TestDeduplicate_DoesNotModifyInput(t *testing.T) {
	ds := NewDataset(dedupCols, [][]string{
		{"P1", "ECO", "2024-01-01", "1"},
		{"P1", "ECO", "2024-01-02", "2"},
	})

	out, _ := Deduplicate(ds, dedupOpts(30, true))
	out.Rows[0]["Seq"] = "changed"

	if ds.HasColumn(DuplicateColumn) || ds.Rows[0].Value("Seq") != "1" {
		t.Error("input dataset was modified")
	}
	if _, ok := ds.Rows[1][DuplicateColumn]; ok {
		t.Error("input row gained a flag")
	}
}
