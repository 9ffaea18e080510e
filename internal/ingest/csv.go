package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/amrglass/internal/core"
)

// Errors returned while reading uploads. Their text matches the patterns in
// core.MapError.
var (
	ErrEmptyFile       = errors.New("empty file")
	ErrDuplicateHeader = errors.New("invalid csv: duplicate header")
	ErrNoFile          = errors.New("no file provided")
)

// ReadCSV parses a CSV export into a dataset. The first record is the
// header. Headers are passed through core.CleanCell; short rows are padded
// and extra trailing cells are dropped. Input larger than limit bytes fails
// with ErrFileTooLarge (limit <= 0 disables the cap).
func ReadCSV(r io.Reader, limit int64) (core.Dataset, error) {
	cr := csv.NewReader(Wrap(r, limit))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return core.Dataset{}, ErrEmptyFile
	}
	if err != nil {
		return core.Dataset{}, csvError(err)
	}

	columns, err := cleanHeader(header)
	if err != nil {
		return core.Dataset{}, err
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return core.Dataset{}, csvError(err)
		}
		if blankRecord(rec) {
			continue
		}
		records = append(records, append([]string(nil), rec...))
	}

	return core.NewDataset(columns, records), nil
}

// WriteGlassCSV writes records with the GLASS header.
func WriteGlassCSV(w io.Writer, records []core.GlassRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(core.GlassColumns); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(rec.Values()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDatasetCSV writes a dataset with its column order as the header.
func WriteDatasetCSV(w io.Writer, ds core.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ds.Columns); err != nil {
		return err
	}
	for _, rec := range ds.Records() {
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func cleanHeader(header []string) ([]string, error) {
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := core.CleanCell(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w %q", ErrDuplicateHeader, name)
		}
		seen[name] = true
		columns[i] = name
	}
	return columns, nil
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if v != "" {
			return false
		}
	}
	return true
}

func csvError(err error) error {
	if errors.Is(err, ErrFileTooLarge) {
		return err
	}
	return fmt.Errorf("invalid csv: %w", err)
}
