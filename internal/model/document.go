package model

import (
	"encoding/json"
	"fmt"
	"io"
)

// Document is the remote representation of one identity's data: a single
// JSON object holding one array field per Kind plus a "rev" counter that
// the server bumps on every write.
type Document map[string]any

// DecodeDocument reads a document, keeping numbers as json.Number.
func DecodeDocument(r io.Reader) (Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var d Document
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if d == nil {
		d = Document{}
	}
	return d, nil
}

// Rev returns the document revision, 0 when absent.
func (d Document) Rev() int64 {
	switch x := d["rev"].(type) {
	case json.Number:
		n, _ := x.Int64()
		return n
	case float64:
		return int64(x)
	case int64:
		return x
	case int:
		return int64(x)
	}
	return 0
}

// Records returns the collection stored under kind.
func (d Document) Records(kind Kind) []Record {
	recs := RecordsFromAny(d[string(kind)])
	if recs == nil {
		return []Record{}
	}
	return recs
}
