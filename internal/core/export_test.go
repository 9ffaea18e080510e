package core

import (
	"testing"
)

func testExporter(t *testing.T) *Exporter {
	t.Helper()
	return NewExporter(testVocabulary(t), DefaultFieldMapping())
}

// ----------------------------------------------------------------------------
// Export Tests
// ----------------------------------------------------------------------------

func TestExport_TwoResultsTwoRecords(t *testing.T) {
	ds := NewDataset(
		[]string{"Country", "Specimen date", "Specimen type", "Organism", "Age in years", "Gender", "Department", "Location type", "CiprofloxacinSIR", "GentamicinSIR"},
		[][]string{
			{"KE", "03/15/2024", "Blood", "E. coli", "34.6", "female", "ICU", "Inpatient", "S", "R"},
		},
	)

	got := testExporter(t).Export(ds)

	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	want := GlassRecord{
		Country:        "KE",
		SpecimenDate:   "2024-03-15",
		Specimen:       "BL",
		Organism:       "ECO",
		Antibiotic:     "CIP",
		Interpretation: Susceptible,
		Age:            "35",
		Sex:            "F",
		PatientType:    "IN",
		Ward:           "ICU",
	}
	if got[0] != want {
		t.Errorf("record 0 = %+v, want %+v", got[0], want)
	}

	want.Antibiotic = "GEN"
	want.Interpretation = Resistant
	if got[1] != want {
		t.Errorf("record 1 = %+v, want %+v", got[1], want)
	}
}

func TestExport_RowCountLaw(t *testing.T) {
	ds := NewDataset(
		[]string{"Country", "Organism", "CiprofloxacinSIR", "GEN_INTERPRETATION", "AMC_INTERPRETATION"},
		[][]string{
			{"KE", "E. coli", "S", "R", "Not Tested"},     // 2
			{"KE", "E. coli", "", "No Breakpoints", ""},   // 0
			{"KE", "E. coli", "Susceptible", "i", "sens"}, // 2 ("sens" is not recognized)
			{"KE", "E. coli", "RESISTANT", "", "I"},       // 2
		},
	)

	got := testExporter(t).Export(ds)

	if len(got) != 6 {
		t.Fatalf("len = %d, want 6", len(got))
	}
	wantCalls := []Interpretation{"S", "R", "S", "I", "R", "I"}
	for i, w := range wantCalls {
		if got[i].Interpretation != w {
			t.Errorf("record %d interpretation = %q, want %q", i, got[i].Interpretation, w)
		}
	}
}

func TestExport_Defaults(t *testing.T) {
	ds := NewDataset(
		[]string{"Organism", "CIP_INTERPRETATION"},
		[][]string{{"Candida", "R"}},
	)

	got := testExporter(t).Export(ds)

	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	rec := got[0]
	if rec.Country != "" || rec.SpecimenDate != "" || rec.Age != "" || rec.Ward != "" {
		t.Errorf("missing fields should be empty: %+v", rec)
	}
	if rec.Organism != UnknownOrganism {
		t.Errorf("Organism = %q, want XXX", rec.Organism)
	}
	if rec.Specimen != "UNK" || rec.Sex != "U" || rec.PatientType != "UNK" {
		t.Errorf("defaults = (%q, %q, %q), want (UNK, U, UNK)", rec.Specimen, rec.Sex, rec.PatientType)
	}
}

func TestExport_UnparsableDateKeepsRow(t *testing.T) {
	ds := NewDataset(
		[]string{"Specimen date", "Organism", "CIP_INTERPRETATION"},
		[][]string{{"sometime", "E. coli", "S"}},
	)

	got := testExporter(t).Export(ds)
	if len(got) != 1 || got[0].SpecimenDate != "" {
		t.Errorf("got %+v, want one record with empty date", got)
	}
}

func TestExport_NoResultColumns(t *testing.T) {
	ds := NewDataset([]string{"Organism", "CIP_NM"}, [][]string{{"E. coli", "1"}})
	if got := testExporter(t).Export(ds); len(got) != 0 {
		t.Errorf("got %d records, want 0", len(got))
	}
}

func TestExport_FieldMappingPrefer(t *testing.T) {
	ds := NewDataset(
		[]string{"Pays", "Organism", "CIP_INTERPRETATION"},
		[][]string{{" FR ", "E. coli", "S"}},
	)
	mapping := DefaultFieldMapping().Prefer(FieldMapping{Country: []string{"Pays"}})

	got := NewExporter(testVocabulary(t), mapping).Export(ds)
	if len(got) != 1 || got[0].Country != "FR" {
		t.Errorf("got %+v, want Country FR", got)
	}
}

func TestNormalizers(t *testing.T) {
	sex := map[string]string{"M": "M", "male": "M", "F": "F", "Female": "F", "x": "U", "": "U"}
	for in, want := range sex {
		if got := NormalizeSex(in); got != want {
			t.Errorf("NormalizeSex(%q) = %q, want %q", in, got, want)
		}
	}

	ptype := map[string]string{"Inpatient": "IN", "in": "IN", "OUTPATIENT": "OUT", "ER": "UNK", "": "UNK"}
	for in, want := range ptype {
		if got := NormalizePatientType(in); got != want {
			t.Errorf("NormalizePatientType(%q) = %q, want %q", in, got, want)
		}
	}

	age := map[string]string{
		"34": "34", "34.4": "34", "34.6": "35", "2.5": "2", "3.5": "4", "-0.4": "0",
		"": "", "n/a": "", "old": "",
		"1e20": "100000000000000000000",
	}
	for in, want := range age {
		if got := NormalizeAge(in); got != want {
			t.Errorf("NormalizeAge(%q) = %q, want %q", in, got, want)
		}
	}

	// Ages beyond the int64 range keep their magnitude and sign.
	if got := NormalizeAge("1e300"); len(got) != 301 || got[0] != '1' {
		t.Errorf("NormalizeAge(1e300) = %q", got)
	}
}

// ----------------------------------------------------------------------------
// Round trip: exported records pass validation
// ----------------------------------------------------------------------------

func TestExport_RoundTripValidates(t *testing.T) {
	ds := NewDataset(
		[]string{"Country", "Specimen date", "Specimen type", "Organism", "Age in years", "Gender", "Location type", "CiprofloxacinSIR", "GentamicinSIR"},
		[][]string{
			{"KE", "2024-01-10", "Urine", "Klebsiella pneumoniae", "61", "M", "outpatient", "R", "S"},
			{"KE", "2024-01-11", "blood", "E. coli", "", "", "", "I", ""},
		},
	)

	records := testExporter(t).Export(ds)
	report := NewValidator().ValidateRecords(records)
	if report.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, issues = %+v", report.ErrorCount, report.Issues)
	}

	again := NewValidator().Validate(RecordsToDataset(records))
	if again.ErrorCount != 0 || !again.Passed {
		t.Errorf("re-validation failed: %+v", again)
	}
}

// ----------------------------------------------------------------------------
// WHONET pivot
// ----------------------------------------------------------------------------

func TestWhonetWide(t *testing.T) {
	records := []GlassRecord{
		{Country: "KE", SpecimenDate: "2024-01-02", Specimen: "BL", Organism: "ECO", Antibiotic: "GEN", Interpretation: "R"},
		{Country: "KE", SpecimenDate: "2024-01-01", Specimen: "UR", Organism: "KPN", Antibiotic: "CIP", Interpretation: "S"},
		{Country: "KE", SpecimenDate: "2024-01-02", Specimen: "BL", Organism: "ECO", Antibiotic: "CIP", Interpretation: "I"},
		{Country: "KE", SpecimenDate: "2024-01-02", Specimen: "BL", Organism: "ECO", Antibiotic: "CIP", Interpretation: "S"},
	}

	ds := WhonetWide(records)

	wantCols := []string{"COUNTRY", "SPECIMENDATE", "SPECIMEN", "ORGANISM", "CIP", "GEN"}
	if len(ds.Columns) != len(wantCols) {
		t.Fatalf("Columns = %v, want %v", ds.Columns, wantCols)
	}
	for i := range wantCols {
		if ds.Columns[i] != wantCols[i] {
			t.Errorf("Columns[%d] = %q, want %q", i, ds.Columns[i], wantCols[i])
		}
	}
	if ds.Len() != 2 {
		t.Fatalf("Len = %d, want 2", ds.Len())
	}
	if ds.Rows[0].Value("ORGANISM") != "KPN" {
		t.Errorf("first row = %v, want the earlier KPN isolate", ds.Rows[0])
	}
	if got := ds.Rows[1].Value("CIP"); got != "I" {
		t.Errorf("ECO CIP = %q, want first value I", got)
	}
	if got := ds.Rows[1].Value("GEN"); got != "R" {
		t.Errorf("ECO GEN = %q, want R", got)
	}
}

func TestDatasetToRecords(t *testing.T) {
	ds := NewDataset(
		[]string{"country", "SpecimenDate", "ORGANISM", "ANTIBIOTIC", "INTERPRETATION", "Extra"},
		[][]string{{" KE ", "2024-01-02", "ECO", "CIP", "R", "x"}},
	)

	got := DatasetToRecords(ds)

	want := GlassRecord{Country: "KE", SpecimenDate: "2024-01-02", Organism: "ECO", Antibiotic: "CIP", Interpretation: Resistant}
	if len(got) != 1 || got[0] != want {
		t.Errorf("records = %+v, want %+v", got, want)
	}

	back := DatasetToRecords(RecordsToDataset(got))
	if back[0] != want {
		t.Errorf("round trip = %+v", back[0])
	}
}
