package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ValueKind discriminates the representations a raw manifest cell can take.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindDate   ValueKind = "date"
	KindNull   ValueKind = "null"
)

// RawValue is a single manifest cell, resolved to a tagged union at capture
// time. Exactly one of Str/Num/Time is meaningful, selected by Kind.
type RawValue struct {
	Kind ValueKind `json:"kind"`
	Str  string    `json:"str,omitempty"`
	Num  float64   `json:"num,omitempty"`
	Time time.Time `json:"time,omitzero"`
}

// NullValue returns the null RawValue.
func NullValue() RawValue {
	return RawValue{Kind: KindNull}
}

// StringValue returns a string-kinded RawValue. Empty strings become null.
func StringValue(s string) RawValue {
	if strings.TrimSpace(s) == "" {
		return NullValue()
	}
	return RawValue{Kind: KindString, Str: s}
}

// NumberValue returns a number-kinded RawValue.
func NumberValue(f float64) RawValue {
	return RawValue{Kind: KindNumber, Num: f}
}

// DateValue returns a date-kinded RawValue, truncated to UTC midnight.
func DateValue(t time.Time) RawValue {
	t = t.UTC()
	return RawValue{Kind: KindDate, Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// ResolveCell converts raw cell text into a typed RawValue. Numbers are
// detected before dates so that spreadsheet serials stay numeric; the
// persister decides later whether a numeric cell is really a serial date.
func ResolveCell(text string) RawValue {
	s := strings.TrimSpace(text)
	if s == "" {
		return NullValue()
	}
	if f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil {
		return NumberValue(f)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateValue(t)
		}
	}
	return RawValue{Kind: KindString, Str: s}
}

// dateLayouts are the calendar formats seen across forwarder manifests.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02-Jan-2006",
	"2-Jan-06",
	"Jan 2, 2006",
}

// IsEmpty reports whether the value carries no content.
func (v RawValue) IsEmpty() bool {
	return v.Kind == KindNull || (v.Kind == KindString && strings.TrimSpace(v.Str) == "")
}

// Equal compares two values by kind and content. Dates compare at day
// precision; numbers compare exactly.
func (v RawValue) Equal(o RawValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindDate:
		return v.Time.Equal(o.Time)
	default:
		return true
	}
}

// String renders the value as the text it would carry in a manifest cell.
func (v RawValue) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindDate:
		return v.Time.Format("2006-01-02")
	default:
		return ""
	}
}

// MarshalJSON emits a compact discriminated form.
func (v RawValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(map[string]any{"kind": v.Kind, "str": v.Str})
	case KindNumber:
		return json.Marshal(map[string]any{"kind": v.Kind, "num": v.Num})
	case KindDate:
		return json.Marshal(map[string]any{"kind": v.Kind, "time": v.Time.Format(time.RFC3339)})
	default:
		return json.Marshal(map[string]any{"kind": KindNull})
	}
}

// UnmarshalJSON restores a RawValue from its discriminated form.
func (v *RawValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind ValueKind `json:"kind"`
		Str  string    `json:"str"`
		Num  float64   `json:"num"`
		Time string    `json:"time"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: unmarshal raw value")
	}
	switch raw.Kind {
	case KindString:
		*v = RawValue{Kind: KindString, Str: raw.Str}
	case KindNumber:
		*v = RawValue{Kind: KindNumber, Num: raw.Num}
	case KindDate:
		t, err := time.Parse(time.RFC3339, raw.Time)
		if err != nil {
			return eris.Wrap(err, "model: unmarshal raw value time")
		}
		*v = RawValue{Kind: KindDate, Time: t}
	case KindNull, "":
		*v = NullValue()
	default:
		return eris.New(fmt.Sprintf("model: unknown value kind %q", raw.Kind))
	}
	return nil
}
