package core

// convert.go provides lenient parsing of the raw text found in laboratory exports.
//
// These functions handle the messy reality of LIS/WHONET extracts:
//   - Multiple date formats (US, EU, ISO, with or without a time part)
//   - Numbers with thousands separators or stray whitespace
//   - MIC values with comparator prefixes ("<=0.25", "≥32")
//   - Spreadsheet artifacts (="value", surrounding quotes)
//   - Placeholder text for missing cells ("NA", "null", "#N/A")
//
// Parse* functions report ok=false for empty or invalid input instead of
// returning errors; callers treat that as absence.

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// DateLayout is the canonical output layout for dates (GLASS SPECIMENDATE).
const DateLayout = "2006-01-02"

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z07:00", "2006-01-02T15:04:05.999999999Z07:00",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"1/2/2006 15:04", "1/2/2006 15:04:05",
		"Jan 2, 2006", "2 Jan 2006", "02-Jan-2006", "2-Jan-2006", "January 2, 2006",
		"20060102",
	}
)

// missingTokens are placeholder values treated as an empty cell.
var missingTokens = map[string]bool{
	"":      true,
	"na":    true,
	"n/a":   true,
	"nan":   true,
	"null":  true,
	"none":  true,
	"#n/a":  true,
	"<na>":  true,
	"nat":   true,
	"-nan":  true,
	"#null": true,
}

// IsMissing reports whether a raw cell should be treated as absent.
func IsMissing(s string) bool {
	return missingTokens[strings.ToLower(strings.TrimSpace(s))]
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	// Remove leading '='
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	// Remove any surrounding quotes
	s = strings.Trim(s, `"'`)

	return strings.TrimSpace(s)
}

// CleanDataset returns a copy with every header and cell passed through
// CleanCell and placeholder values blanked.
func CleanDataset(ds Dataset) Dataset {
	out := Dataset{
		Columns: make([]string, len(ds.Columns)),
		Rows:    make([]Row, len(ds.Rows)),
	}
	renamed := make(map[string]string, len(ds.Columns))
	for i, c := range ds.Columns {
		clean := CleanCell(c)
		out.Columns[i] = clean
		renamed[c] = clean
	}
	for i, r := range ds.Rows {
		row := make(Row, len(r))
		for k, v := range r {
			key, ok := renamed[k]
			if !ok {
				key = CleanCell(k)
			}
			v = CleanCell(v)
			if IsMissing(v) {
				v = ""
			}
			row[key] = v
		}
		out.Rows[i] = row
	}
	return out
}

// ParseDate parses a date in any of the supported layouts.
// Supports multiple date formats and handles 2-digit years with pivot.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if IsMissing(s) {
		return time.Time{}, false
	}

	// Try 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, true
		}
	}

	// Try 2-digit year layouts with pivot year adjustment
	currentYear := time.Now().Year()
	pivotYear := currentYear + TwoDigitYearPivot

	for _, layout := range twoDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	return time.Time{}, false
}

// FormatDate normalizes a raw date to YYYY-MM-DD, or "" when unparsable.
func FormatDate(s string) string {
	t, ok := ParseDate(s)
	if !ok {
		return ""
	}
	return t.Format(DateLayout)
}

// ParseNumber parses a numeric cell, tolerating thousands separators.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if IsMissing(s) {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if !numericRegex.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// comparatorPrefixes is ordered so two-character forms win over their prefixes.
var comparatorPrefixes = []struct {
	prefix string
	norm   string
}{
	{"<=", "<="},
	{">=", ">="},
	{"≤", "<="},
	{"≥", ">="},
	{"=<", "<="},
	{"=>", ">="},
	{"<", "<"},
	{">", ">"},
	{"=", "="},
}

// ParseMeasurementValue splits an optional comparator prefix from a MIC or
// zone cell ("<=0.25" -> 0.25, "<="). The numeric part is returned as-is;
// no comparator-aware adjustment is made.
func ParseMeasurementValue(s string) (value float64, comparator string, ok bool) {
	s = strings.TrimSpace(s)
	if IsMissing(s) {
		return 0, "", false
	}
	for _, cp := range comparatorPrefixes {
		if strings.HasPrefix(s, cp.prefix) {
			comparator = cp.norm
			s = strings.TrimSpace(strings.TrimPrefix(s, cp.prefix))
			break
		}
	}
	value, ok = ParseNumber(s)
	if !ok {
		return 0, "", false
	}
	return value, comparator, true
}

// collapseSpaces replaces every run of whitespace with a single space and trims.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
