package core

import "strings"

// Engine interprets measurements against one standard and version of a Registry.
type Engine struct {
	registry *Registry
	standard string
	version  string
}

// NewEngine creates an engine bound to a registry and a (standard, version).
func NewEngine(reg *Registry, standard, version string) *Engine {
	return &Engine{
		registry: reg,
		standard: strings.ToUpper(strings.TrimSpace(standard)),
		version:  strings.TrimSpace(version),
	}
}

// WithStandard returns an engine sharing the registry but using another
// standard and version.
func (e *Engine) WithStandard(standard, version string) *Engine {
	return NewEngine(e.registry, standard, version)
}

// Standard returns the engine's standard and version.
func (e *Engine) Standard() (string, string) {
	return e.standard, e.version
}

// Interpret classifies a single measurement. A missing breakpoint yields
// NoBreakpoints. The comparator is not used: "<=2" is compared as 2.
func (e *Engine) Interpret(m Measurement) Interpretation {
	bp, ok := e.registry.Get(e.standard, e.version, m.OrganismCode, m.AntibioticCode, m.Method)
	if !ok {
		return NoBreakpoints
	}
	return bp.Classify(m.Value)
}

// BatchOptions configures InterpretDataset.
type BatchOptions struct {
	// OrganismColumn holds the organism of each row. Defaults to "Organism".
	OrganismColumn string

	// Specs lists the measurement columns to interpret. When nil, every
	// _ND and _NM column of the dataset is used.
	Specs []ColumnSpec

	// Resolver maps the organism cell to a code. When nil, the cell is
	// upper-cased and used as the code directly.
	Resolver Resolver
}

// InterpretSummary counts the outcomes of a batch interpretation.
type InterpretSummary struct {
	Columns       int            `json:"columns"`
	Interpreted   int            `json:"interpreted"`
	NotTested     int            `json:"not_tested"`
	NoBreakpoints int            `json:"no_breakpoints"`
	Calls         map[string]int `json:"calls"`
}

// InterpretDataset writes an "<ABX>_INTERPRETATION" column for each
// measurement column. Output cells default to "Not Tested" and only take
// S, I or R when the cell is numeric and a breakpoint exists. Blank or
// non-numeric cells never reach the registry. The input is not modified.
func (e *Engine) InterpretDataset(ds Dataset, opts BatchOptions) (Dataset, InterpretSummary) {
	orgCol := opts.OrganismColumn
	if orgCol == "" {
		orgCol = "Organism"
	}
	specs := opts.Specs
	if specs == nil {
		specs = ParseColumnSpecs(ds.Columns)
	}
	specs = MeasurementSpecs(specs)

	summary := InterpretSummary{Calls: make(map[string]int)}
	out := ds.Clone()
	if len(specs) == 0 {
		return out, summary
	}

	var present []ColumnSpec
	for _, spec := range specs {
		if !ds.HasColumn(spec.Name) {
			continue
		}
		present = append(present, spec)
		out.Columns = withColumn(out.Columns, spec.OutputColumn())
	}
	summary.Columns = len(present)

	for i, row := range ds.Rows {
		orgCode := e.organismCode(row.Value(orgCol), opts.Resolver)
		target := out.Rows[i]
		for _, spec := range present {
			target[spec.OutputColumn()] = string(NotTested)
		}
		for _, spec := range present {
			outCol := spec.OutputColumn()

			value, comparator, ok := ParseMeasurementValue(row.Value(spec.Name))
			if !ok {
				summary.NotTested++
				continue
			}

			call := e.Interpret(Measurement{
				OrganismCode:   orgCode,
				AntibioticCode: strings.ToUpper(spec.Antibiotic),
				Method:         spec.Method,
				Value:          value,
				Comparator:     comparator,
			})
			summary.Calls[string(call)]++
			if call.IsSIR() {
				target[outCol] = string(call)
				summary.Interpreted++
			} else {
				summary.NoBreakpoints++
			}
		}
	}
	return out, summary
}

func (e *Engine) organismCode(text string, r Resolver) string {
	if r == nil {
		return strings.ToUpper(strings.TrimSpace(text))
	}
	if code, ok := r.ResolveOrganism(text).Code(); ok {
		return code
	}
	return strings.ToUpper(strings.TrimSpace(text))
}
