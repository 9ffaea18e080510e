package core

import (
	"sort"
	"strings"
)

// Method is the AST test method of a measurement.
type Method string

const (
	MethodMIC  Method = "mic"
	MethodZone Method = "zone"
)

// ParseMethod converts a method name (case-insensitive) to a Method.
func ParseMethod(s string) (Method, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mic", "nm":
		return MethodMIC, true
	case "zone", "disk", "nd":
		return MethodZone, true
	default:
		return "", false
	}
}

// Interpretation is the categorical outcome of interpreting a measurement.
type Interpretation string

const (
	Susceptible   Interpretation = "S"
	Intermediate  Interpretation = "I"
	Resistant     Interpretation = "R"
	NotTested     Interpretation = "Not Tested"
	NoBreakpoints Interpretation = "No Breakpoints"
)

// IsSIR reports whether i is one of the clinical categories S, I or R.
func (i Interpretation) IsSIR() bool {
	return i == Susceptible || i == Intermediate || i == Resistant
}

// Measurement is a single raw AST value taken from one cell of a wide dataset.
type Measurement struct {
	OrganismCode   string
	AntibioticCode string
	Method         Method
	Value          float64
	Comparator     string // "<", "<=", "=", ">=", ">" or empty; informational only
}

// Row is one wide record: column name to raw cell value.
type Row map[string]string

// Value returns the cell for col, or "" when the column is absent.
func (r Row) Value(col string) string {
	return r[col]
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Dataset is an ordered tabular dataset. Columns fixes the column order used
// when serializing; rows may omit columns (treated as missing).
type Dataset struct {
	Columns []string
	Rows    []Row
}

// NewDataset builds a dataset from a header and rows of positional values.
// Short rows are padded with empty cells; extra cells are dropped.
func NewDataset(columns []string, records [][]string) Dataset {
	ds := Dataset{
		Columns: append([]string(nil), columns...),
		Rows:    make([]Row, 0, len(records)),
	}
	for _, rec := range records {
		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds
}

// Len returns the number of rows.
func (d Dataset) Len() int {
	return len(d.Rows)
}

// HasColumn reports whether the dataset declares the column (exact match).
func (d Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the dataset.
func (d Dataset) Clone() Dataset {
	out := Dataset{
		Columns: append([]string(nil), d.Columns...),
		Rows:    make([]Row, len(d.Rows)),
	}
	for i, r := range d.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// Records returns the rows as positional string slices in Columns order.
func (d Dataset) Records() [][]string {
	out := make([][]string, len(d.Rows))
	for i, r := range d.Rows {
		rec := make([]string, len(d.Columns))
		for j, c := range d.Columns {
			rec[j] = r[c]
		}
		out[i] = rec
	}
	return out
}

// FindColumn returns the first dataset column matching any candidate.
// Matching ignores case and surrounding whitespace; a second pass also
// collapses inner whitespace ("Specimen  date" matches "specimen date").
func (d Dataset) FindColumn(candidates ...string) (string, bool) {
	byKey := make(map[string]string, len(d.Columns))
	for _, c := range d.Columns {
		key := strings.ToLower(strings.TrimSpace(c))
		if _, seen := byKey[key]; !seen {
			byKey[key] = c
		}
	}
	for _, cand := range candidates {
		if col, ok := byKey[strings.ToLower(strings.TrimSpace(cand))]; ok {
			return col, true
		}
	}

	collapsed := make(map[string]string, len(d.Columns))
	for key, col := range byKey {
		k := collapseSpaces(key)
		if _, seen := collapsed[k]; !seen {
			collapsed[k] = col
		}
	}
	for _, cand := range candidates {
		if col, ok := collapsed[collapseSpaces(strings.ToLower(cand))]; ok {
			return col, true
		}
	}
	return "", false
}

// withColumn returns columns with name appended if it is not already present.
func withColumn(columns []string, name string) []string {
	for _, c := range columns {
		if c == name {
			return columns
		}
	}
	return append(columns, name)
}

// GlassColumns is the exact field order of a GLASS long-format record.
var GlassColumns = []string{
	"COUNTRY",
	"SPECIMENDATE",
	"SPECIMEN",
	"ORGANISM",
	"ANTIBIOTIC",
	"INTERPRETATION",
	"AGE",
	"SEX",
	"PATIENT_TYPE",
	"WARD",
}

// GlassRecord is one (specimen, antibiotic) result in GLASS long format.
// Field order matches GlassColumns so JSON output keeps the same order.
type GlassRecord struct {
	Country        string         `json:"COUNTRY"`
	SpecimenDate   string         `json:"SPECIMENDATE"`
	Specimen       string         `json:"SPECIMEN"`
	Organism       string         `json:"ORGANISM"`
	Antibiotic     string         `json:"ANTIBIOTIC"`
	Interpretation Interpretation `json:"INTERPRETATION"`
	Age            string         `json:"AGE"`
	Sex            string         `json:"SEX"`
	PatientType    string         `json:"PATIENT_TYPE"`
	Ward           string         `json:"WARD"`
}

// Values returns the record fields in GlassColumns order.
func (g GlassRecord) Values() []string {
	return []string{
		g.Country,
		g.SpecimenDate,
		g.Specimen,
		g.Organism,
		g.Antibiotic,
		string(g.Interpretation),
		g.Age,
		g.Sex,
		g.PatientType,
		g.Ward,
	}
}

// Row returns the record as a Row keyed by GLASS column names.
func (g GlassRecord) Row() Row {
	vals := g.Values()
	row := make(Row, len(GlassColumns))
	for i, c := range GlassColumns {
		row[c] = vals[i]
	}
	return row
}

// RecordsToDataset converts GLASS records into a long-format Dataset.
func RecordsToDataset(records []GlassRecord) Dataset {
	ds := Dataset{
		Columns: append([]string(nil), GlassColumns...),
		Rows:    make([]Row, len(records)),
	}
	for i, rec := range records {
		ds.Rows[i] = rec.Row()
	}
	return ds
}

// DatasetToRecords reads a long-format Dataset back into GLASS records.
// Column names match GlassColumns ignoring case; absent columns read as
// empty. Values are trimmed but otherwise taken as given.
func DatasetToRecords(ds Dataset) []GlassRecord {
	cols := make([]string, len(GlassColumns))
	for i, name := range GlassColumns {
		cols[i], _ = ds.FindColumn(name)
	}
	get := func(row Row, i int) string {
		if cols[i] == "" {
			return ""
		}
		return strings.TrimSpace(row[cols[i]])
	}

	out := make([]GlassRecord, len(ds.Rows))
	for i, row := range ds.Rows {
		out[i] = GlassRecord{
			Country:        get(row, 0),
			SpecimenDate:   get(row, 1),
			Specimen:       get(row, 2),
			Organism:       get(row, 3),
			Antibiotic:     get(row, 4),
			Interpretation: Interpretation(get(row, 5)),
			Age:            get(row, 6),
			Sex:            get(row, 7),
			PatientType:    get(row, 8),
			Ward:           get(row, 9),
		}
	}
	return out
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
