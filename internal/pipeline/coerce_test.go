package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/harborline/manifest-cli/internal/model"
)

func TestCoerce_SerialDate(t *testing.T) {
	// 45301 is 2024-01-10 in the 1900 date system.
	got := Coerce(model.NumberValue(45301), model.FieldTypeDate)
	assert.Equal(t, model.KindDate, got.Kind)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), got.Time)
}

func TestCoerce_SmallNumberNotASerial(t *testing.T) {
	got := Coerce(model.NumberValue(42), model.FieldTypeDate)
	assert.Equal(t, model.KindNumber, got.Kind)
	assert.Equal(t, 42.0, got.Num)
}

func TestCoerce_DateString(t *testing.T) {
	got := Coerce(model.StringValue("10/01/2024"), model.FieldTypeDate)
	assert.Equal(t, model.KindDate, got.Kind)
}

func TestCoerce_DatePassthrough(t *testing.T) {
	d := model.DateValue(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, d, Coerce(d, model.FieldTypeDate))
}

func TestCoerce_NumberWithThousandsSeparators(t *testing.T) {
	got := Coerce(model.StringValue("18,500.75"), model.FieldTypeNumber)
	assert.Equal(t, model.KindNumber, got.Kind)
	assert.Equal(t, 18500.75, got.Num)
}

func TestCoerce_UnparseableNumberStaysText(t *testing.T) {
	got := Coerce(model.StringValue("n/a"), model.FieldTypeNumber)
	assert.Equal(t, model.KindString, got.Kind)
	assert.Equal(t, "n/a", got.Str)
}

func TestCoerce_StringTrims(t *testing.T) {
	got := Coerce(model.StringValue("  MSKU1234567  "), model.FieldTypeString)
	assert.Equal(t, "MSKU1234567", got.Str)
}

func TestCoerce_NumberRendersForStringField(t *testing.T) {
	got := Coerce(model.NumberValue(12345), model.FieldTypeString)
	assert.Equal(t, model.KindString, got.Kind)
	assert.Equal(t, "12345", got.Str)
}

func TestCoerce_EmptyIsNull(t *testing.T) {
	assert.True(t, Coerce(model.NullValue(), model.FieldTypeDate).IsEmpty())
	assert.True(t, Coerce(model.StringValue("   "), model.FieldTypeNumber).IsEmpty())
}

func TestCoerce_Deterministic(t *testing.T) {
	// Audit recomputes corrections with the same function; two passes must
	// agree.
	v := model.StringValue("1,200")
	first := Coerce(v, model.FieldTypeNumber)
	second := Coerce(first, model.FieldTypeNumber)
	assert.True(t, first.Equal(second))
}
