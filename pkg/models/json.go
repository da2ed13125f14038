package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// JSON column helper types. Each implements sql.Scanner and driver.Valuer so
// slices and maps can live in TEXT columns across ledger backends.

// JSONStringArray is a string slice stored as a JSON array.
type JSONStringArray []string

// Scan implements sql.Scanner.
func (a *JSONStringArray) Scan(value interface{}) error {
	return scanJSON(value, a)
}

// Value implements driver.Valuer.
func (a JSONStringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return marshalJSON(a)
}

// Contains reports whether a holds s.
func (a JSONStringArray) Contains(s string) bool {
	for _, v := range a {
		if v == s {
			return true
		}
	}
	return false
}

// JSONInt64Map is a string-to-int64 map stored as a JSON object.
type JSONInt64Map map[string]int64

// Scan implements sql.Scanner.
func (m *JSONInt64Map) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// Value implements driver.Valuer.
func (m JSONInt64Map) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return marshalJSON(m)
}

// JSONFloat64Map is a string-to-float64 map stored as a JSON object.
type JSONFloat64Map map[string]float64

// Scan implements sql.Scanner.
func (m *JSONFloat64Map) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// Value implements driver.Valuer.
func (m JSONFloat64Map) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return marshalJSON(m)
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan json column: unsupported type %T", value)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

func marshalJSON(v interface{}) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return string(data), nil
}
