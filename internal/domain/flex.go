package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// The control server is loosely typed: numbers arrive as strings, booleans as "1"/"yes",
// and absent values as null or "None". The Flex types normalize that at the decode boundary.

// FlexString accepts a JSON string or number
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if isNullish(b) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*s = FlexString(normalizeNumber(n.String()))
	return nil
}

// FlexInt is an optional integer accepting numbers and numeric strings
type FlexInt struct {
	Value int
	Set   bool
}

func (i *FlexInt) UnmarshalJSON(b []byte) error {
	*i = FlexInt{}
	s, ok, err := scalarText(b)
	if err != nil || !ok {
		return err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flex int: %q is not a number", s)
	}
	*i = FlexInt{Value: int(f), Set: true}
	return nil
}

// Ptr returns nil when the value was absent
func (i FlexInt) Ptr() *int {
	if !i.Set {
		return nil
	}
	v := i.Value
	return &v
}

// FlexFloat is an optional float accepting numbers and numeric strings
type FlexFloat struct {
	Value float64
	Set   bool
}

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	*f = FlexFloat{}
	s, ok, err := scalarText(b)
	if err != nil || !ok {
		return err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flex float: %q is not a number", s)
	}
	*f = FlexFloat{Value: v, Set: true}
	return nil
}

// Or returns the value, or def when absent
func (f FlexFloat) Or(def float64) float64 {
	if !f.Set {
		return def
	}
	return f.Value
}

// FlexBool accepts booleans, numbers, and the truthy strings "1", "true", "yes", "on"
type FlexBool struct {
	Value bool
	Set   bool
}

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	*f = FlexBool{}
	b = bytes.TrimSpace(b)
	if isNullish(b) {
		return nil
	}
	switch string(b) {
	case "true":
		*f = FlexBool{Value: true, Set: true}
		return nil
	case "false":
		*f = FlexBool{Value: false, Set: true}
		return nil
	}
	s, ok, err := scalarText(b)
	if err != nil || !ok {
		return err
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		*f = FlexBool{Value: n != 0, Set: true}
		return nil
	}
	*f = FlexBool{Value: Truthy(s), Set: true}
	return nil
}

// Truthy reports whether s is one of the accepted truthy spellings
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// scalarText returns the textual form of a JSON string or number.
// ok is false for null, "None" and empty strings.
func scalarText(b []byte) (string, bool, error) {
	b = bytes.TrimSpace(b)
	if isNullish(b) {
		return "", false, nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", false, err
		}
		s = strings.TrimSpace(s)
		if s == "" || s == "None" || strings.EqualFold(s, "null") {
			return "", false, nil
		}
		return s, true, nil
	}
	if b[0] == '{' || b[0] == '[' {
		return "", false, fmt.Errorf("expected scalar, got %s", b)
	}
	return string(b), true, nil
}

func isNullish(b []byte) bool {
	return len(b) == 0 || string(b) == "null"
}

// normalizeNumber drops a redundant ".0" so ids like 12.0 and 12 compare equal
func normalizeNumber(s string) string {
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}
