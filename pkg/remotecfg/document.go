package remotecfg

import (
	"encoding/json"
	"fmt"
	"math"
)

// Document is a parsed configuration mapping of field name to value.
// Values are semantically untyped until a typed accessor vets them;
// Authenticate must succeed before any other field is consulted.
type Document map[string]any

// ParseDocument parses a JSON object into a Document.
func ParseDocument(data []byte) (Document, error) {
	doc := Document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config document: %w", err)
	}
	return doc, nil
}

// Has reports whether the field is present.
func (d Document) Has(name string) bool {
	_, ok := d[name]
	return ok
}

// Float returns the field as a number.
func (d Document) Float(name string) (float64, bool) {
	v, ok := d[name]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64) // encoding/json decodes all numbers as float64
	return f, ok
}

// Int returns the field as a whole number. A fractional value is treated
// as mistyped, not rounded.
func (d Document) Int(name string) (int64, bool) {
	f, ok := d.Float(name)
	if !ok || f != math.Trunc(f) || f < math.MinInt64 || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Bool returns the field as a boolean.
func (d Document) Bool(name string) (bool, bool) {
	v, ok := d[name]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// String returns the field as a string.
func (d Document) String(name string) (string, bool) {
	v, ok := d[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
