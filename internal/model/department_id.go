package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DepartmentID is the normalized department key. Inputs may carry it as a
// JSON number or a string; decoding accepts both so business logic never does.
type DepartmentID int64

func (d DepartmentID) String() string {
	return strconv.FormatInt(int64(d), 10)
}

// ParseDepartmentID accepts "12", " 12 ", "12.0"
func ParseDepartmentID(s string) (DepartmentID, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return DepartmentID(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("invalid department id %q", s)
	}
	return DepartmentID(int64(f)), nil
}

// DepartmentIDFrom normalizes a decoded JSON value
func DepartmentIDFrom(v any) (DepartmentID, error) {
	switch t := v.(type) {
	case DepartmentID:
		return t, nil
	case int:
		return DepartmentID(t), nil
	case int64:
		return DepartmentID(t), nil
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("invalid department id %v", t)
		}
		return DepartmentID(int64(t)), nil
	case json.Number:
		return ParseDepartmentID(t.String())
	case string:
		return ParseDepartmentID(t)
	default:
		return 0, fmt.Errorf("invalid department id type %T", v)
	}
}

func (d *DepartmentID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		id, err := ParseDepartmentID(s)
		if err != nil {
			return err
		}
		*d = id
		return nil
	}
	id, err := ParseDepartmentID(string(b))
	if err != nil {
		return err
	}
	*d = id
	return nil
}

// MarshalText and UnmarshalText let DepartmentID key JSON objects
func (d DepartmentID) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *DepartmentID) UnmarshalText(b []byte) error {
	id, err := ParseDepartmentID(string(b))
	if err != nil {
		return err
	}
	*d = id
	return nil
}

func (d DepartmentID) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}
