package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind names one item collection. It doubles as the field name of the
// collection inside a remote document.
type Kind string

const (
	KindTasks Kind = "tasks"
	KindNotes Kind = "notes"
)

// Record is one persisted item in its raw JSON shape. Numbers are kept as
// json.Number so ids written by other clients survive a load/save cycle exactly.
type Record map[string]any

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = cloneValue(vv)
		}
		return m
	case Record:
		return x.Clone()
	case []any:
		s := make([]any, len(x))
		for i, vv := range x {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// DecodeRecords parses a JSON array of objects. Elements that are not
// objects are skipped; only malformed JSON is an error. An empty or
// whitespace-only input decodes to an empty slice.
func DecodeRecords(b []byte) ([]Record, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return []Record{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	return recordsFrom(raw), nil
}

// RecordsFromAny converts an already decoded JSON value (for example one
// field of a remote document) into records. Anything but an array yields nil.
func RecordsFromAny(v any) []Record {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	return recordsFrom(raw)
}

func recordsFrom(raw []any) []Record {
	out := make([]Record, 0, len(raw))
	for _, el := range raw {
		if m, ok := el.(map[string]any); ok {
			out = append(out, Record(m))
		}
	}
	return out
}

// EncodeRecords renders records the way they are stored on disk.
func EncodeRecords(recs []Record) ([]byte, error) {
	if recs == nil {
		recs = []Record{}
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return b, nil
}

// ------- coercion helpers shared by the codecs -------

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func asBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return err == nil && b
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	default:
		return false
	}
}

// asTime accepts RFC 3339 strings and millisecond epoch numbers.
func asTime(v any) time.Time {
	switch x := v.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(x))
		if err != nil {
			return time.Time{}
		}
		return t.UTC()
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return time.UnixMilli(n).UTC()
		}
		if f, err := x.Float64(); err == nil {
			return time.UnixMilli(int64(f)).UTC()
		}
	case float64:
		return time.UnixMilli(int64(x)).UTC()
	case int64:
		return time.UnixMilli(x).UTC()
	case int:
		return time.UnixMilli(int64(x)).UTC()
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// idValue writes decimal ids back as JSON numbers, matching records created
// from millisecond timestamps. Only the canonical spelling of an integer is
// a number; "+5", "-01" or "007" stay strings.
func idValue(id string) any {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != id {
		return id
	}
	return json.Number(id)
}

func extras(r Record, known ...string) Record {
	var out Record
	for k, v := range r {
		if isKnown(k, known) {
			continue
		}
		if out == nil {
			out = Record{}
		}
		out[k] = cloneValue(v)
	}
	return out
}

func isKnown(k string, known []string) bool {
	for _, kk := range known {
		if k == kk {
			return true
		}
	}
	return false
}
