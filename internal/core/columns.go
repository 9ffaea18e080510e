package core

import "strings"

// ColumnKind identifies the family an antimicrobial column belongs to.
type ColumnKind string

const (
	// KindZone is a raw disk-diffusion column ("<ABX>_ND", mm).
	KindZone ColumnKind = "zone"
	// KindMIC is a raw MIC column ("<ABX>_NM").
	KindMIC ColumnKind = "mic"
	// KindSIR is a pre-interpreted column ("<Antibiotic>SIR").
	KindSIR ColumnKind = "sir"
	// KindInterpretation is an engine-produced column ("<ABX>_INTERPRETATION").
	KindInterpretation ColumnKind = "interpretation"
)

// Column suffixes, matched case-sensitively as in WHONET exports.
const (
	SuffixZone           = "_ND"
	SuffixMIC            = "_NM"
	SuffixSIR            = "SIR"
	SuffixInterpretation = "_INTERPRETATION"
)

// ColumnSpec describes one antimicrobial column, derived once per dataset.
type ColumnSpec struct {
	Name       string     // column name in the dataset
	Kind       ColumnKind // column family
	Method     Method     // test method; empty for result columns
	Antibiotic string     // header token with the suffix removed, e.g. "CIP" or "Ciprofloxacin"
}

// IsMeasurement reports whether the column holds raw zone or MIC values.
func (c ColumnSpec) IsMeasurement() bool {
	return c.Kind == KindZone || c.Kind == KindMIC
}

// IsResult reports whether the column holds an S/I/R literal.
func (c ColumnSpec) IsResult() bool {
	return c.Kind == KindSIR || c.Kind == KindInterpretation
}

// OutputColumn is the interpretation column a measurement column writes to.
func (c ColumnSpec) OutputColumn() string {
	return strings.ToUpper(c.Antibiotic) + SuffixInterpretation
}

// ParseColumnSpecs enumerates the antimicrobial columns of a dataset in
// column order. Measurement columns come first (zone then MIC), followed by
// result columns (SIR then _INTERPRETATION), matching the order in which
// downstream stages consume them.
func ParseColumnSpecs(columns []string) []ColumnSpec {
	var zone, mic, sir, interp []ColumnSpec
	for _, col := range columns {
		switch {
		case strings.HasSuffix(col, SuffixInterpretation):
			interp = append(interp, ColumnSpec{
				Name: col, Kind: KindInterpretation,
				Antibiotic: strings.TrimSpace(strings.TrimSuffix(col, SuffixInterpretation)),
			})
		case strings.HasSuffix(col, SuffixSIR):
			sir = append(sir, ColumnSpec{
				Name: col, Kind: KindSIR,
				Antibiotic: strings.TrimSpace(strings.TrimSuffix(col, SuffixSIR)),
			})
		case strings.HasSuffix(col, SuffixZone):
			zone = append(zone, ColumnSpec{
				Name: col, Kind: KindZone, Method: MethodZone,
				Antibiotic: strings.TrimSpace(strings.TrimSuffix(col, SuffixZone)),
			})
		case strings.HasSuffix(col, SuffixMIC):
			mic = append(mic, ColumnSpec{
				Name: col, Kind: KindMIC, Method: MethodMIC,
				Antibiotic: strings.TrimSpace(strings.TrimSuffix(col, SuffixMIC)),
			})
		}
	}

	out := make([]ColumnSpec, 0, len(zone)+len(mic)+len(sir)+len(interp))
	out = append(out, zone...)
	out = append(out, mic...)
	out = append(out, sir...)
	out = append(out, interp...)
	return out
}

// MeasurementSpecs filters specs to raw zone/MIC columns.
func MeasurementSpecs(specs []ColumnSpec) []ColumnSpec {
	var out []ColumnSpec
	for _, s := range specs {
		if s.IsMeasurement() && s.Antibiotic != "" {
			out = append(out, s)
		}
	}
	return out
}

// ResultSpecs filters specs to S/I/R result columns.
func ResultSpecs(specs []ColumnSpec) []ColumnSpec {
	var out []ColumnSpec
	for _, s := range specs {
		if s.IsResult() && s.Antibiotic != "" {
			out = append(out, s)
		}
	}
	return out
}
