package core

import "sort"

// whonetBaseColumns identify one isolate in the wide WHONET layout.
var whonetBaseColumns = []string{"COUNTRY", "SPECIMENDATE", "SPECIMEN", "ORGANISM"}

// WhonetWide pivots GLASS long records back to one row per
// (COUNTRY, SPECIMENDATE, SPECIMEN, ORGANISM) with one column per
// antibiotic holding its S/I/R value. Rows are sorted by the base columns
// and antibiotic columns alphabetically. When an isolate has the same
// antibiotic more than once, the first value wins.
func WhonetWide(records []GlassRecord) Dataset {
	type isolate struct {
		country, date, specimen, organism string
	}

	rows := make(map[isolate]Row)
	var order []isolate
	antibiotics := make(map[string]int)

	for _, rec := range records {
		key := isolate{rec.Country, rec.SpecimenDate, rec.Specimen, rec.Organism}
		row, ok := rows[key]
		if !ok {
			row = Row{
				"COUNTRY":      rec.Country,
				"SPECIMENDATE": rec.SpecimenDate,
				"SPECIMEN":     rec.Specimen,
				"ORGANISM":     rec.Organism,
			}
			rows[key] = row
			order = append(order, key)
		}
		if rec.Antibiotic == "" {
			continue
		}
		antibiotics[rec.Antibiotic]++
		if _, set := row[rec.Antibiotic]; !set {
			row[rec.Antibiotic] = string(rec.Interpretation)
		}
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		switch {
		case a.country != b.country:
			return a.country < b.country
		case a.date != b.date:
			return a.date < b.date
		case a.specimen != b.specimen:
			return a.specimen < b.specimen
		default:
			return a.organism < b.organism
		}
	})

	ds := Dataset{
		Columns: append(append([]string(nil), whonetBaseColumns...), sortedKeys(antibiotics)...),
		Rows:    make([]Row, 0, len(order)),
	}
	for _, key := range order {
		ds.Rows = append(ds.Rows, rows[key])
	}
	return ds
}
