// Package tables holds the built-in organism, antibiotic and breakpoint
// tables and loads site-specific extensions from YAML files.
package tables

import "github.com/JonMunkholm/amrglass/internal/core"

// DefaultOrganisms returns the built-in organism synonym table in match
// order. Earlier groups win when several synonyms occur in the same text.
func DefaultOrganisms() []core.SynonymGroup {
	return []core.SynonymGroup{
		{Code: "ECO", Synonyms: []string{"escherichia coli", "e. coli", "e coli"}},
		{Code: "KPN", Synonyms: []string{"klebsiella pneumoniae", "k. pneumoniae", "k pneumoniae"}},
		{Code: "SAU", Synonyms: []string{"staphylococcus aureus", "s. aureus"}},
		{Code: "PAE", Synonyms: []string{"pseudomonas aeruginosa", "p. aeruginosa"}},
	}
}

// DefaultAntibiotics returns the built-in antibiotic synonym table.
func DefaultAntibiotics() []core.SynonymGroup {
	return []core.SynonymGroup{
		{Code: "CIP", Synonyms: []string{"ciprofloxacin", "cipro"}},
		{Code: "GEN", Synonyms: []string{"gentamicin", "genta", "gent"}},
		{Code: "AMK", Synonyms: []string{"amikacin"}},
		{Code: "AMC", Synonyms: []string{"amoxicillin-clav", "amoxicillin clavulanate", "amox/clav"}},
		{Code: "AMP", Synonyms: []string{"ampicillin"}},
		{Code: "CAZ", Synonyms: []string{"ceftazidime"}},
		{Code: "CRO", Synonyms: []string{"ceftriaxone"}},
		{Code: "CXM", Synonyms: []string{"cefuroxime"}},
		{Code: "FOX", Synonyms: []string{"cefoxitin"}},
		{Code: "MEM", Synonyms: []string{"meropenem"}},
		{Code: "SXT", Synonyms: []string{"co-trimoxasole", "trimethoprim/sulfamethoxazole", "cotrimoxazole"}},
		{Code: "TCY", Synonyms: []string{"tetracycline"}},
		{Code: "CHL", Synonyms: []string{"chloramphenicol"}},
		{Code: "AZM", Synonyms: []string{"azithromycin"}},
		{Code: "TZP", Synonyms: []string{"piperacillin/tazobactam", "pip/tazo"}},
	}
}

// DefaultBreakpoints returns the built-in CLSI and EUCAST 2024 entries.
// They are illustrative values for a minimal setup, not an authoritative
// clinical table; production sites load their own with LoadBreakpointsYAML.
func DefaultBreakpoints() []core.Breakpoint {
	return []core.Breakpoint{
		core.MICBreakpoint("CLSI", "2024", "ECO", "CIP", 1, 2),
		core.ZoneBreakpoint("CLSI", "2024", "ECO", "CIP", 21, 16),
		core.ZoneBreakpoint("CLSI", "2024", "KPN", "CAZ", 18, 15),
		core.ZoneBreakpoint("CLSI", "2024", "ECO", "GEN", 15, 13),

		core.MICBreakpoint("EUCAST", "2024", "ECO", "CIP", 0.5, 1),
		core.ZoneBreakpoint("EUCAST", "2024", "ECO", "CIP", 25, 22),
		core.ZoneBreakpoint("EUCAST", "2024", "KPN", "CAZ", 20, 17),
	}
}
