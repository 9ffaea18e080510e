package tables

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/amrglass/internal/core"
)

// BreakpointFile is the YAML layout of a breakpoint table:
//
//	breakpoints:
//	  - {standard: CLSI, version: "2024", organism: ECO, antibiotic: AMP, method: mic, susceptible: 8, intermediate: 16}
type BreakpointFile struct {
	Breakpoints []core.Breakpoint `yaml:"breakpoints"`
}

// VocabularyFile is the YAML layout of a synonym table extension:
//
//	organisms:
//	  - code: ABA
//	    synonyms: [acinetobacter baumannii, a. baumannii]
//	antibiotics:
//	  - code: COL
//	    synonyms: [colistin]
type VocabularyFile struct {
	Organisms   []core.SynonymGroup `yaml:"organisms"`
	Antibiotics []core.SynonymGroup `yaml:"antibiotics"`
}

// DecodeBreakpoints parses a breakpoint table. Unknown keys are rejected so
// a misspelled threshold never silently becomes zero.
func DecodeBreakpoints(r io.Reader) ([]core.Breakpoint, error) {
	var f BreakpointFile
	if err := decodeStrict(r, &f); err != nil {
		return nil, fmt.Errorf("breakpoint table: %w", err)
	}
	return f.Breakpoints, nil
}

// DecodeVocabulary parses a synonym table extension.
func DecodeVocabulary(r io.Reader) (VocabularyFile, error) {
	var f VocabularyFile
	if err := decodeStrict(r, &f); err != nil {
		return VocabularyFile{}, fmt.Errorf("vocabulary table: %w", err)
	}
	return f, nil
}

// LoadBreakpointsYAML reads a breakpoint table from path.
func LoadBreakpointsYAML(path string) ([]core.Breakpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read breakpoint table: %w", err)
	}
	return DecodeBreakpoints(bytes.NewReader(data))
}

// LoadVocabularyYAML reads a synonym table extension from path.
func LoadVocabularyYAML(path string) (VocabularyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return VocabularyFile{}, fmt.Errorf("read vocabulary table: %w", err)
	}
	return DecodeVocabulary(bytes.NewReader(data))
}

// NewRegistry seeds a registry with the defaults plus the entries in
// breakpointsFile, when set. File entries replace defaults with the same key.
func NewRegistry(breakpointsFile string) (*core.Registry, error) {
	reg, err := core.NewRegistry(DefaultBreakpoints()...)
	if err != nil {
		return nil, fmt.Errorf("seed defaults: %w", err)
	}
	if breakpointsFile == "" {
		return reg, nil
	}

	extra, err := LoadBreakpointsYAML(breakpointsFile)
	if err != nil {
		return nil, err
	}
	for i, b := range extra {
		if err := reg.Upsert(b); err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", breakpointsFile, i+1, err)
		}
	}
	return reg, nil
}

// NewVocabulary builds the default vocabulary extended with vocabularyFile,
// when set.
func NewVocabulary(vocabularyFile string) (*core.Vocabulary, error) {
	vocab, err := core.NewVocabulary(DefaultOrganisms(), DefaultAntibiotics())
	if err != nil {
		return nil, fmt.Errorf("seed defaults: %w", err)
	}
	if vocabularyFile == "" {
		return vocab, nil
	}

	f, err := LoadVocabularyYAML(vocabularyFile)
	if err != nil {
		return nil, err
	}
	vocab, err = vocab.Extend(f.Organisms, f.Antibiotics)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", vocabularyFile, err)
	}
	return vocab, nil
}

func decodeStrict(r io.Reader, out any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
