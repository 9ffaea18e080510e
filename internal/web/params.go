package web

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/JonMunkholm/amrglass/internal/core"
	"github.com/JonMunkholm/amrglass/internal/service"
)

// valueGetter is satisfied by url.Values and by the multipart form helper.
type valueGetter interface {
	Get(key string) string
}

// parseIntParam parses a positive integer parameter with a default value.
func parseIntParam(v valueGetter, name string, defaultVal int) int {
	s := v.Get(name)
	if s == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// parseBoolParam accepts 1/true/yes/on, case-insensitively.
func parseBoolParam(v valueGetter, name string) bool {
	switch strings.ToLower(strings.TrimSpace(v.Get(name))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// wantsCSV reports whether the client asked for CSV output.
func wantsCSV(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return strings.EqualFold(f, "csv")
	}
	return strings.Contains(r.Header.Get("Accept"), "text/csv")
}

// mappingFromParams reads export column overrides such as
// ?organism_column=Bug.
func mappingFromParams(v valueGetter) core.FieldMapping {
	one := func(name string) []string {
		if s := strings.TrimSpace(v.Get(name)); s != "" {
			return []string{s}
		}
		return nil
	}
	return core.FieldMapping{
		Country:      one("country_column"),
		SpecimenDate: one("date_column"),
		SpecimenType: one("specimen_column"),
		Organism:     one("organism_column"),
		Age:          one("age_column"),
		Sex:          one("sex_column"),
		Ward:         one("ward_column"),
		PatientType:  one("patient_type_column"),
	}
}

// dedupFromParams reads the episode options shared by /deduplicate and the
// pipeline endpoints.
func dedupFromParams(v valueGetter) service.DedupRequest {
	return service.DedupRequest{
		PatientColumn:  v.Get("patient_column"),
		OrganismColumn: v.Get("organism_column"),
		DateColumn:     v.Get("date_column"),
		WindowDays:     parseIntParam(v, "window_days", 0),
		MarkOnly:       parseBoolParam(v, "mark_only"),
	}
}

// pipelineFromParams builds a PipelineRequest without its dataset.
func pipelineFromParams(v valueGetter, source string) service.PipelineRequest {
	return service.PipelineRequest{
		Source:         source,
		Standard:       v.Get("standard"),
		Version:        v.Get("version"),
		OrganismColumn: v.Get("organism_column"),
		Deduplicate:    parseBoolParam(v, "deduplicate"),
		Dedup:          dedupFromParams(v),
		Mapping:        mappingFromParams(v),
	}
}

// formValues merges query parameters with multipart form fields, form
// fields first.
type formValues struct {
	form  url.Values
	query url.Values
}

func (f formValues) Get(key string) string {
	if v := f.form.Get(key); v != "" {
		return v
	}
	return f.query.Get(key)
}
