package pipeline

import (
	"strconv"
	"strings"
	"time"

	"github.com/harborline/manifest-cli/internal/model"
)

// excelEpoch is day zero of the 1900 date system. Serial 1 is 1899-12-31;
// the off-by-two relative to 1900-01-01 absorbs Lotus's phantom leap day.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// Serial values outside this window are treated as plain numbers, not dates.
// 20000 ≈ 1954, 80000 ≈ 2119.
const (
	serialMin = 20000
	serialMax = 80000
)

// Coerce converts a captured raw value into the shape a catalog field
// expects. The same function runs at persistence time and at audit time so
// the auditor's expected value is always derivable mechanically.
func Coerce(v model.RawValue, fieldType model.FieldType) model.RawValue {
	if v.IsEmpty() {
		return model.NullValue()
	}

	switch fieldType {
	case model.FieldTypeDate:
		return coerceDate(v)
	case model.FieldTypeNumber:
		return coerceNumber(v)
	default:
		return coerceString(v)
	}
}

func coerceDate(v model.RawValue) model.RawValue {
	switch v.Kind {
	case model.KindDate:
		return v
	case model.KindNumber:
		// Spreadsheet serial date.
		if v.Num >= serialMin && v.Num <= serialMax {
			return model.DateValue(excelEpoch.AddDate(0, 0, int(v.Num)))
		}
		return v
	case model.KindString:
		// Capture resolves recognizable dates already; this catches layouts
		// that only appear inside date-typed columns.
		resolved := model.ResolveCell(v.Str)
		if resolved.Kind == model.KindDate {
			return resolved
		}
		return model.StringValue(strings.TrimSpace(v.Str))
	default:
		return v
	}
}

func coerceNumber(v model.RawValue) model.RawValue {
	switch v.Kind {
	case model.KindNumber:
		return v
	case model.KindString:
		s := strings.ReplaceAll(strings.TrimSpace(v.Str), ",", "")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return model.NumberValue(f)
		}
		return model.StringValue(strings.TrimSpace(v.Str))
	default:
		return v
	}
}

func coerceString(v model.RawValue) model.RawValue {
	if v.Kind == model.KindString {
		return model.StringValue(strings.TrimSpace(v.Str))
	}
	// Numbers and dates render as manifest text for string-typed columns.
	return model.StringValue(v.String())
}
