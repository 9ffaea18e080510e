package core

// validation.go checks GLASS long-format data before submission.
//
// Validation happens at two levels:
//  1. Structural: all required columns must exist. A failure here is
//     reported as a single error and nothing else is checked.
//  2. Field rules: every rule runs over every row, independently. Each
//     failing rule produces one issue listing the affected row indices.
//
// The validator never returns an error; every problem ends up in the report.

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue kinds reported by the validator.
const (
	IssueMissingColumns        = "missing_columns"
	IssueInvalidCountry        = "invalid_country"
	IssueInvalidSpecimenDate   = "invalid_specimen_date"
	IssueFutureSpecimenDate    = "future_specimen_date"
	IssueInvalidInterpretation = "invalid_interpretation"
	IssueUnknownSpecimenCode   = "unknown_specimen_code"
	IssueOrganismCodePattern   = "organism_code_pattern"
	IssueAntibioticCodePattern = "antibiotic_code_pattern"
	IssuePatientTypeValue      = "patient_type_value"
	IssueAgeOutOfRange         = "age_out_of_range"
	IssueInvalidSex            = "invalid_sex"
)

// RequiredGlassColumns must all be present for field checks to run.
var RequiredGlassColumns = []string{
	"COUNTRY",
	"SPECIMENDATE",
	"SPECIMEN",
	"ORGANISM",
	"ANTIBIOTIC",
	"INTERPRETATION",
}

// ValidationIssue is one failed check. Rows holds zero-based row indices;
// Columns is only set for missing_columns.
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Kind     string   `json:"kind"`
	Rows     []int    `json:"rows,omitempty"`
	Columns  []string `json:"columns,omitempty"`
	Message  string   `json:"message"`
}

// ValidationReport aggregates the issues found in a dataset. ErrorCount and
// WarningCount count issues, not rows.
type ValidationReport struct {
	TotalRows    int               `json:"total_rows"`
	ErrorCount   int               `json:"error_count"`
	WarningCount int               `json:"warning_count"`
	Passed       bool              `json:"passed"`
	Issues       []ValidationIssue `json:"issues"`
}

// Errors returns the error-severity issues.
func (r ValidationReport) Errors() []ValidationIssue {
	return r.filter(SeverityError)
}

// Warnings returns the warning-severity issues.
func (r ValidationReport) Warnings() []ValidationIssue {
	return r.filter(SeverityWarning)
}

// Issue returns the issue of the given kind, if reported.
func (r ValidationReport) Issue(kind string) (ValidationIssue, bool) {
	for _, is := range r.Issues {
		if is.Kind == kind {
			return is, true
		}
	}
	return ValidationIssue{}, false
}

func (r ValidationReport) filter(sev Severity) []ValidationIssue {
	var out []ValidationIssue
	for _, is := range r.Issues {
		if is.Severity == sev {
			out = append(out, is)
		}
	}
	return out
}

func (r *ValidationReport) add(issue ValidationIssue) {
	if issue.Severity == SeverityError {
		r.ErrorCount++
	} else {
		r.WarningCount++
	}
	r.Issues = append(r.Issues, issue)
}

// fieldRule is one row-level check. bad reports whether a value fails.
// Optional rules are skipped when their column is absent.
type fieldRule struct {
	kind     string
	column   string
	severity Severity
	optional bool
	message  string
	bad      func(value string, today string) bool
}

var (
	countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)
	codePattern    = regexp.MustCompile(`^[A-Z]{2,4}$`)
)

// glassRules lists the field checks in report order.
var glassRules = []fieldRule{
	{
		kind: IssueInvalidCountry, column: "COUNTRY", severity: SeverityError,
		message: "COUNTRY must be a two-letter upper-case code",
		bad:     func(v, _ string) bool { return !countryPattern.MatchString(v) },
	},
	{
		kind: IssueInvalidSpecimenDate, column: "SPECIMENDATE", severity: SeverityError,
		message: "SPECIMENDATE is not a valid date",
		bad: func(v, _ string) bool {
			_, ok := ParseDate(v)
			return !ok
		},
	},
	{
		kind: IssueFutureSpecimenDate, column: "SPECIMENDATE", severity: SeverityError,
		message: "SPECIMENDATE is in the future",
		bad: func(v, today string) bool {
			t, ok := ParseDate(v)
			return ok && t.Format(DateLayout) > today
		},
	},
	{
		kind: IssueInvalidInterpretation, column: "INTERPRETATION", severity: SeverityError,
		message: "INTERPRETATION must be S, I or R",
		bad:     func(v, _ string) bool { return !Interpretation(v).IsSIR() },
	},
	{
		kind: IssueUnknownSpecimenCode, column: "SPECIMEN", severity: SeverityWarning,
		message: "SPECIMEN is not a known specimen code",
		bad:     func(v, _ string) bool { return !IsSpecimenCode(v) },
	},
	{
		kind: IssueOrganismCodePattern, column: "ORGANISM", severity: SeverityWarning,
		message: "ORGANISM should be a 2-4 letter upper-case code",
		bad:     func(v, _ string) bool { return !codePattern.MatchString(v) },
	},
	{
		kind: IssueAntibioticCodePattern, column: "ANTIBIOTIC", severity: SeverityWarning,
		message: "ANTIBIOTIC should be a 2-4 letter upper-case code",
		bad:     func(v, _ string) bool { return !codePattern.MatchString(v) },
	},
	{
		kind: IssuePatientTypeValue, column: "PATIENT_TYPE", severity: SeverityWarning, optional: true,
		message: "PATIENT_TYPE must be IN, OUT or UNK",
		bad: func(v, _ string) bool {
			return v != "IN" && v != "OUT" && v != "UNK"
		},
	},
	{
		kind: IssueAgeOutOfRange, column: "AGE", severity: SeverityWarning, optional: true,
		message: "AGE must be a whole number between 0 and 120",
		bad:     ageOutOfRange,
	},
	{
		kind: IssueInvalidSex, column: "SEX", severity: SeverityWarning, optional: true,
		message: "SEX must be M, F or U",
		bad: func(v, _ string) bool {
			return v != "M" && v != "F" && v != "U"
		},
	},
}

// ageOutOfRange accepts empty values and whole numbers in [0, 120].
func ageOutOfRange(v, _ string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n < 0 || n > 120
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int64(f)) {
		return true
	}
	return f < 0 || f > 120
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithClock sets the time source used for the future-date check.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// Validator checks GLASS long-format datasets.
type Validator struct {
	now   func() time.Time
	rules []fieldRule
}

// NewValidator creates a validator with the standard GLASS rule set.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{now: time.Now, rules: glassRules}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateRecords validates exported records.
func (v *Validator) ValidateRecords(records []GlassRecord) ValidationReport {
	return v.Validate(RecordsToDataset(records))
}

// Validate runs the structural check and then every field rule.
func (v *Validator) Validate(ds Dataset) ValidationReport {
	report := ValidationReport{TotalRows: ds.Len()}

	var missing []string
	for _, col := range RequiredGlassColumns {
		if !ds.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		report.add(ValidationIssue{
			Severity: SeverityError,
			Kind:     IssueMissingColumns,
			Columns:  missing,
			Message:  "missing required columns: " + strings.Join(missing, ", "),
		})
		return report
	}

	today := v.now().Format(DateLayout)
	for _, rule := range v.rules {
		if rule.optional && !ds.HasColumn(rule.column) {
			continue
		}
		var rows []int
		for i, row := range ds.Rows {
			if rule.bad(row.Value(rule.column), today) {
				rows = append(rows, i)
			}
		}
		if len(rows) > 0 {
			report.add(ValidationIssue{
				Severity: rule.severity,
				Kind:     rule.kind,
				Rows:     rows,
				Message:  rule.message,
			})
		}
	}

	report.Passed = report.ErrorCount == 0
	return report
}
