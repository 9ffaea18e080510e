package core

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidVocabulary is returned when a synonym table is malformed.
var ErrInvalidVocabulary = errors.New("invalid vocabulary table")

// UnknownOrganism is the sentinel code for organisms that could not be resolved.
const UnknownOrganism = "XXX"

// SpecimenCodes is the fixed GLASS specimen code set.
var SpecimenCodes = []string{"BL", "UR", "SP", "CSF", "ST", "UNK"}

// SynonymGroup maps one canonical code to the free-text names that denote it.
type SynonymGroup struct {
	Code     string   `yaml:"code" json:"code"`
	Synonyms []string `yaml:"synonyms" json:"synonyms"`
}

// Resolution is the outcome of a vocabulary lookup. An unresolved value only
// exposes its sentinel through String, so it cannot be mistaken for a code.
type Resolution struct {
	code     string
	sentinel string
	matched  bool
	guessed  bool
}

// Code returns the resolved code and true, or "" and false when unresolved.
func (r Resolution) Code() (string, bool) {
	if !r.matched {
		return "", false
	}
	return r.code, true
}

// Matched reports whether the text resolved to a code.
func (r Resolution) Matched() bool {
	return r.matched
}

// Guessed reports whether the code came from the "already a code" fallback
// rather than a synonym table hit.
func (r Resolution) Guessed() bool {
	return r.guessed
}

// String returns the code, or the sentinel ("XXX" for organisms, "" for
// antibiotics) when unresolved.
func (r Resolution) String() string {
	if r.matched {
		return r.code
	}
	return r.sentinel
}

// Resolver resolves free text to organism and antibiotic codes.
type Resolver interface {
	ResolveOrganism(text string) Resolution
	ResolveAntibiotic(text string) Resolution
}

// Vocabulary resolves names using ordered synonym tables. The first code whose
// synonym is a substring of the normalized input wins, so table order matters
// and is preserved exactly. Overlapping synonyms ("coli" vs "e coli") are
// resolved purely by that order.
type Vocabulary struct {
	organisms   []SynonymGroup
	antibiotics []SynonymGroup

	// letters-only organism synonyms, parallel to organisms
	compactOrganisms [][]string
}

// NewVocabulary builds a resolver from ordered organism and antibiotic tables.
// Synonyms are normalized once here. Empty codes or groups without synonyms
// are rejected.
func NewVocabulary(organisms, antibiotics []SynonymGroup) (*Vocabulary, error) {
	v := &Vocabulary{}
	var err error
	if v.organisms, err = mergeGroups(nil, organisms, normalizeText); err != nil {
		return nil, fmt.Errorf("organism table: %w", err)
	}
	if v.antibiotics, err = mergeGroups(nil, antibiotics, normalizeAntibioticText); err != nil {
		return nil, fmt.Errorf("antibiotic table: %w", err)
	}
	v.buildCompact()
	return v, nil
}

// Extend returns a new Vocabulary with extra groups. A code already present
// gains the new synonyms after its existing ones, at its existing position;
// new codes are appended after all existing groups.
func (v *Vocabulary) Extend(organisms, antibiotics []SynonymGroup) (*Vocabulary, error) {
	out := &Vocabulary{}
	var err error
	if out.organisms, err = mergeGroups(v.organisms, organisms, normalizeText); err != nil {
		return nil, fmt.Errorf("organism table: %w", err)
	}
	if out.antibiotics, err = mergeGroups(v.antibiotics, antibiotics, normalizeAntibioticText); err != nil {
		return nil, fmt.Errorf("antibiotic table: %w", err)
	}
	out.buildCompact()
	return out, nil
}

// Organisms returns a copy of the normalized organism table.
func (v *Vocabulary) Organisms() []SynonymGroup {
	return copyGroups(v.organisms)
}

// Antibiotics returns a copy of the normalized antibiotic table.
func (v *Vocabulary) Antibiotics() []SynonymGroup {
	return copyGroups(v.antibiotics)
}

// ResolveOrganism maps free text to an organism code. Unresolved text
// yields the UnknownOrganism sentinel.
func (v *Vocabulary) ResolveOrganism(text string) Resolution {
	s := normalizeText(text)
	if s == "" {
		return Resolution{sentinel: UnknownOrganism}
	}
	if code, ok := scan(v.organisms, s); ok {
		return Resolution{code: code, matched: true}
	}

	// Punctuation-insensitive pass: "e.coli" -> "ecoli" contains "ecoli".
	compact := lettersOnly(s)
	if compact != "" {
		for i, g := range v.organisms {
			for _, syn := range v.compactOrganisms[i] {
				if syn != "" && strings.Contains(compact, syn) {
					return Resolution{code: g.Code, matched: true}
				}
			}
		}
	}
	return Resolution{sentinel: UnknownOrganism}
}

// ResolveAntibiotic maps free text to an antibiotic code. Text that matches
// no synonym but is 2-4 letters long is taken as already being a code.
func (v *Vocabulary) ResolveAntibiotic(text string) Resolution {
	s := normalizeAntibioticText(text)
	if s != "" {
		if code, ok := scan(v.antibiotics, s); ok {
			return Resolution{code: code, matched: true}
		}
	}

	trimmed := strings.TrimSpace(text)
	if isShortCode(trimmed) {
		return Resolution{code: strings.ToUpper(trimmed), matched: true, guessed: true}
	}
	return Resolution{}
}

// NormalizeSpecimen maps free-text specimen descriptions to the GLASS
// specimen code set by substring heuristics.
func NormalizeSpecimen(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	switch {
	case s == "":
		return "UNK"
	case strings.Contains(s, "blood"):
		return "BL"
	case strings.Contains(s, "urine"):
		return "UR"
	case strings.Contains(s, "sputum"):
		return "SP"
	case strings.Contains(s, "csf"), strings.Contains(s, "cerebrospinal"):
		return "CSF"
	case strings.Contains(s, "stool"), strings.Contains(s, "feces"):
		return "ST"
	default:
		return "UNK"
	}
}

// IsSpecimenCode reports whether code is in SpecimenCodes.
func IsSpecimenCode(code string) bool {
	for _, c := range SpecimenCodes {
		if c == code {
			return true
		}
	}
	return false
}

func (v *Vocabulary) buildCompact() {
	v.compactOrganisms = make([][]string, len(v.organisms))
	for i, g := range v.organisms {
		compact := make([]string, len(g.Synonyms))
		for j, syn := range g.Synonyms {
			compact[j] = lettersOnly(syn)
		}
		v.compactOrganisms[i] = compact
	}
}

func scan(groups []SynonymGroup, s string) (string, bool) {
	for _, g := range groups {
		for _, syn := range g.Synonyms {
			if strings.Contains(s, syn) {
				return g.Code, true
			}
		}
	}
	return "", false
}

// mergeGroups appends extra onto base (copied), normalizing synonyms.
func mergeGroups(base, extra []SynonymGroup, norm func(string) string) ([]SynonymGroup, error) {
	out := copyGroups(base)
	index := make(map[string]int, len(out)+len(extra))
	for i, g := range out {
		index[g.Code] = i
	}

	for _, g := range extra {
		code := strings.ToUpper(strings.TrimSpace(g.Code))
		if code == "" {
			return nil, fmt.Errorf("%w: empty code", ErrInvalidVocabulary)
		}
		syns := make([]string, 0, len(g.Synonyms))
		for _, syn := range g.Synonyms {
			if n := norm(syn); n != "" {
				syns = append(syns, n)
			}
		}
		if len(syns) == 0 {
			return nil, fmt.Errorf("%w: code %s has no synonyms", ErrInvalidVocabulary, code)
		}

		if i, ok := index[code]; ok {
			out[i].Synonyms = append(out[i].Synonyms, syns...)
			continue
		}
		index[code] = len(out)
		out = append(out, SynonymGroup{Code: code, Synonyms: syns})
	}
	return out, nil
}

func copyGroups(groups []SynonymGroup) []SynonymGroup {
	out := make([]SynonymGroup, len(groups))
	for i, g := range groups {
		out[i] = SynonymGroup{Code: g.Code, Synonyms: append([]string(nil), g.Synonyms...)}
	}
	return out
}

// normalizeText trims, lowercases and collapses whitespace.
func normalizeText(s string) string {
	return collapseSpaces(strings.ToLower(s))
}

// normalizeAntibioticText also treats '_' and '-' as word separators, so
// "amoxicillin-clav" and column tokens like "AMOXICILLIN_CLAV" compare equal.
func normalizeAntibioticText(s string) string {
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return normalizeText(s)
}

func lettersOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isShortCode(s string) bool {
	n := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
		n++
	}
	return n >= 2 && n <= 4
}
