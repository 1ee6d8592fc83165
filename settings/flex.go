package settings

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexID is an id that may arrive as a JSON number or a numeric string.
// Anything unparsable, and zero, decodes as absent.
type FlexID struct {
	Value int64
	Valid bool
}

// UnmarshalJSON never fails: values that are not numbers or numeric strings become absent.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	*f = FlexID{}
	if v, ok := parseLoose(data); ok && v != 0 {
		f.Value, f.Valid = v, true
	}
	return nil
}

// MarshalJSON encodes absent ids as null.
func (f FlexID) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(f.Value, 10)), nil
}

// Ptr returns the id as a pointer, nil when absent.
func (f FlexID) Ptr() *int64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// ID builds a present FlexID.
func ID(v int64) FlexID {
	return FlexID{Value: v, Valid: v != 0}
}

// FlexIDList is a list of ids. Present is false when the field was missing or not an array.
type FlexIDList struct {
	IDs     []int64
	Present bool
}

// UnmarshalJSON keeps every element that parses as an integer.
func (l *FlexIDList) UnmarshalJSON(data []byte) error {
	*l = FlexIDList{}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil
	}
	l.Present = true
	l.IDs = make([]int64, 0, len(raw))
	for _, elem := range raw {
		if v, ok := parseLoose(elem); ok {
			l.IDs = append(l.IDs, v)
		}
	}
	return nil
}

// MarshalJSON encodes a missing list as null.
func (l FlexIDList) MarshalJSON() ([]byte, error) {
	if !l.Present {
		return []byte("null"), nil
	}
	if l.IDs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.IDs)
}

// ParseID reads an id from form or command line text with the same rules as UnmarshalJSON.
func ParseID(s string) FlexID {
	if v, ok := leadingInt(s); ok && v != 0 {
		return FlexID{Value: v, Valid: true}
	}
	return FlexID{}
}

// ParseIDs reads a present list, dropping entries that are not ids.
func ParseIDs(values []string) FlexIDList {
	l := FlexIDList{IDs: make([]int64, 0, len(values)), Present: true}
	for _, s := range values {
		if v, ok := leadingInt(s); ok {
			l.IDs = append(l.IDs, v)
		}
	}
	return l
}

// IDs builds a present FlexIDList.
func IDs(ids ...int64) FlexIDList {
	return FlexIDList{IDs: append([]int64{}, ids...), Present: true}
}

// parseLoose reads a leading base-10 integer from a JSON number or string,
// ignoring any trailing fraction or text ("12", "12.7", " 12abc" all give 12).
func parseLoose(data []byte) (int64, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0, false
	}

	var s string
	switch data[0] {
	case '"':
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, false
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		s = string(data)
	default:
		return 0, false
	}
	return leadingInt(s)
}

func leadingInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}

	v, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		// Out of int64 range: treat like a non-finite number.
		return 0, false
	}
	return v, true
}
