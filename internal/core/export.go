package core

// export.go turns wide rows into GLASS long records.
//
// One record is emitted per (row, result column) pair whose cell normalizes
// to S, I or R. Anything else ("Not Tested", "No Breakpoints", blanks,
// free text) is skipped without error, so a row with no usable results
// emits nothing.

import (
	"math"
	"strconv"
	"strings"
)

// FieldMapping names the source columns for the GLASS patient and specimen
// fields. Each field has a preferred column followed by fallbacks; lookup is
// case- and whitespace-insensitive.
type FieldMapping struct {
	Country      []string `yaml:"country" json:"country"`
	SpecimenDate []string `yaml:"specimen_date" json:"specimen_date"`
	SpecimenType []string `yaml:"specimen_type" json:"specimen_type"`
	Organism     []string `yaml:"organism" json:"organism"`
	Age          []string `yaml:"age" json:"age"`
	Sex          []string `yaml:"sex" json:"sex"`
	Ward         []string `yaml:"ward" json:"ward"`
	PatientType  []string `yaml:"patient_type" json:"patient_type"`
}

// DefaultFieldMapping returns the column names used by common WHONET and
// LIS extracts.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		Country:      []string{"Country", "COUNTRY"},
		SpecimenDate: []string{"Specimen date", "Specimen Date", "SPECIMENDATE", "specimen_date"},
		SpecimenType: []string{"Specimen type", "Specimen", "SPECIMEN"},
		Organism:     []string{"Organism", "ORGANISM"},
		Age:          []string{"Age in years", "AGE", "Age"},
		Sex:          []string{"Gender", "SEX", "Sex"},
		Ward:         []string{"Department", "WARD", "Ward"},
		PatientType:  []string{"Location type", "PATIENT_TYPE", "PatientType"},
	}
}

// Prefer returns a copy of m with the given columns tried first for each
// non-empty argument. Empty arguments leave the field unchanged.
func (m FieldMapping) Prefer(overrides FieldMapping) FieldMapping {
	out := m
	pick := func(base, first []string) []string {
		if len(first) == 0 {
			return base
		}
		return append(append([]string(nil), first...), base...)
	}
	out.Country = pick(m.Country, overrides.Country)
	out.SpecimenDate = pick(m.SpecimenDate, overrides.SpecimenDate)
	out.SpecimenType = pick(m.SpecimenType, overrides.SpecimenType)
	out.Organism = pick(m.Organism, overrides.Organism)
	out.Age = pick(m.Age, overrides.Age)
	out.Sex = pick(m.Sex, overrides.Sex)
	out.Ward = pick(m.Ward, overrides.Ward)
	out.PatientType = pick(m.PatientType, overrides.PatientType)
	return out
}

// Exporter converts wide datasets into GLASS long records.
type Exporter struct {
	resolver Resolver
	mapping  FieldMapping
}

// NewExporter creates an exporter using resolver for organism and
// antibiotic codes.
func NewExporter(resolver Resolver, mapping FieldMapping) *Exporter {
	return &Exporter{resolver: resolver, mapping: mapping}
}

// resolvedFields holds the dataset column chosen for each GLASS field, or "".
type resolvedFields struct {
	country, date, specimen, organism, age, sex, ward, patientType string
}

func (e *Exporter) resolveFields(ds Dataset) resolvedFields {
	find := func(candidates []string) string {
		col, _ := ds.FindColumn(candidates...)
		return col
	}
	return resolvedFields{
		country:     find(e.mapping.Country),
		date:        find(e.mapping.SpecimenDate),
		specimen:    find(e.mapping.SpecimenType),
		organism:    find(e.mapping.Organism),
		age:         find(e.mapping.Age),
		sex:         find(e.mapping.Sex),
		ward:        find(e.mapping.Ward),
		patientType: find(e.mapping.PatientType),
	}
}

// resultColumn is a result column with its antibiotic already resolved.
type resultColumn struct {
	name       string
	antibiotic string
}

// Export converts every row of ds. Record order follows row order, then
// result column order (SIR columns before _INTERPRETATION columns).
func (e *Exporter) Export(ds Dataset) []GlassRecord {
	fields := e.resolveFields(ds)

	var columns []resultColumn
	for _, spec := range ResultSpecs(ParseColumnSpecs(ds.Columns)) {
		code, ok := e.resolver.ResolveAntibiotic(spec.Antibiotic).Code()
		if !ok {
			continue
		}
		columns = append(columns, resultColumn{name: spec.Name, antibiotic: code})
	}
	if len(columns) == 0 {
		return nil
	}

	var out []GlassRecord
	for _, row := range ds.Rows {
		base := GlassRecord{
			Country:      strings.TrimSpace(cell(row, fields.country)),
			SpecimenDate: FormatDate(cell(row, fields.date)),
			Specimen:     NormalizeSpecimen(cell(row, fields.specimen)),
			Organism:     e.resolver.ResolveOrganism(cell(row, fields.organism)).String(),
			Age:          NormalizeAge(cell(row, fields.age)),
			Sex:          NormalizeSex(cell(row, fields.sex)),
			PatientType:  NormalizePatientType(cell(row, fields.patientType)),
			Ward:         cell(row, fields.ward),
		}

		for _, col := range columns {
			call, ok := NormalizeInterpretation(row.Value(col.name))
			if !ok {
				continue
			}
			rec := base
			rec.Antibiotic = col.antibiotic
			rec.Interpretation = call
			out = append(out, rec)
		}
	}
	return out
}

// cell returns the row value for col, treating placeholders as empty.
func cell(row Row, col string) string {
	if col == "" {
		return ""
	}
	v := row.Value(col)
	if IsMissing(v) {
		return ""
	}
	return v
}

// NormalizeInterpretation maps S/I/R literals and their long forms to an
// Interpretation. Anything else is reported as not ok.
func NormalizeInterpretation(s string) (Interpretation, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "S", "SUSCEPTIBLE", "SENSITIVE":
		return Susceptible, true
	case "I", "INTERMEDIATE":
		return Intermediate, true
	case "R", "RESISTANT":
		return Resistant, true
	default:
		return "", false
	}
}

// NormalizeSex maps M/MALE and F/FEMALE; everything else is U.
func NormalizeSex(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "M", "MALE":
		return "M"
	case "F", "FEMALE":
		return "F"
	default:
		return "U"
	}
}

// NormalizePatientType maps "in*" to IN and "out*" to OUT; everything else is UNK.
func NormalizePatientType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "in"):
		return "IN"
	case strings.HasPrefix(s, "out"):
		return "OUT"
	default:
		return "UNK"
	}
}

// NormalizeAge rounds a numeric age to the nearest integer (halves to even)
// and returns "" when the cell is missing or not numeric.
func NormalizeAge(s string) string {
	v, ok := ParseNumber(s)
	if !ok {
		return ""
	}
	r := math.RoundToEven(v)
	if r == 0 {
		r = 0 // drop the sign of -0
	}
	return strconv.FormatFloat(r, 'f', 0, 64)
}
