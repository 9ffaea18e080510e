package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/JonMunkholm/amrglass/internal/core"
)

// RecordsEnvelope is the JSON body shape accepted by the API:
// {"records": [{"Organism": "E. coli", "CIP_NM": 0.5}, ...]}.
type RecordsEnvelope struct {
	Records []json.RawMessage `json:"records"`
}

// ReadJSON parses either a bare array of flat objects or a RecordsEnvelope.
// Columns are ordered by first appearance across records. Integer literals
// are kept as written; other numbers take their shortest decimal form. Null
// becomes an empty cell and nested values are rejected.
func ReadJSON(r io.Reader, limit int64) (core.Dataset, error) {
	data, err := io.ReadAll(NewLimitedReader(r, limit))
	if err != nil {
		return core.Dataset{}, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return core.Dataset{}, ErrEmptyFile
	}

	var raw []json.RawMessage
	if data[0] == '[' {
		err = json.Unmarshal(data, &raw)
	} else {
		var env RecordsEnvelope
		err = json.Unmarshal(data, &env)
		raw = env.Records
	}
	if err != nil {
		return core.Dataset{}, fmt.Errorf("invalid json: %w", err)
	}
	return DecodeRecords(raw)
}

// DecodeRecords converts raw JSON objects into a dataset.
func DecodeRecords(raw []json.RawMessage) (core.Dataset, error) {
	ds := core.Dataset{Rows: make([]core.Row, 0, len(raw))}
	seen := make(map[string]bool)

	for i, msg := range raw {
		row, keys, err := decodeObject(msg)
		if err != nil {
			return core.Dataset{}, fmt.Errorf("invalid json: record %d: %w", i+1, err)
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				ds.Columns = append(ds.Columns, k)
			}
		}
		ds.Rows = append(ds.Rows, row)
	}

	// records may omit keys other records carry
	for _, row := range ds.Rows {
		for _, c := range ds.Columns {
			if _, ok := row[c]; !ok {
				row[c] = ""
			}
		}
	}
	return ds, nil
}

// decodeObject reads one flat object, returning its keys in document order.
func decodeObject(msg json.RawMessage) (core.Row, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("expected object, got %v", tok)
	}

	row := make(core.Row)
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)

		tok, err = dec.Token()
		if err != nil {
			return nil, nil, err
		}
		val, err := scalarString(tok)
		if err != nil {
			return nil, nil, fmt.Errorf("field %q: %w", key, err)
		}
		if _, dup := row[key]; !dup {
			keys = append(keys, key)
		}
		row[key] = val
	}
	return row, keys, nil
}

func scalarString(tok json.Token) (string, error) {
	switch v := tok.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		// Integers are kept verbatim so IDs beyond 2^53 stay distinct.
		if !strings.ContainsAny(v.String(), ".eE") {
			return v.String(), nil
		}
		f, err := v.Float64()
		if err != nil {
			return v.String(), nil
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("nested values are not supported")
	}
}

// WriteGlassJSON writes records as a JSON array.
func WriteGlassJSON(w io.Writer, records []core.GlassRecord) error {
	if records == nil {
		records = []core.GlassRecord{}
	}
	return json.NewEncoder(w).Encode(records)
}

// DatasetRecords converts a dataset to JSON-ready objects.
func DatasetRecords(ds core.Dataset) []map[string]string {
	out := make([]map[string]string, len(ds.Rows))
	for i, r := range ds.Rows {
		obj := make(map[string]string, len(ds.Columns))
		for _, c := range ds.Columns {
			obj[c] = r[c]
		}
		out[i] = obj
	}
	return out
}
