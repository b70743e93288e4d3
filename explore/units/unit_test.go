package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	// GIVEN a value-and-unit string
	q, err := Parse("2.5 GB")

	// THEN it parses into the registered unit
	require.NoError(t, err)
	assert.Equal(t, 2.5, q.Value)
	assert.Equal(t, Gigabyte, q.Unit)
}

func TestParse_Dimensionless(t *testing.T) {
	q, err := Parse("42")
	require.NoError(t, err)
	assert.Equal(t, 42.0, q.Value)
	assert.Equal(t, DimensionNone, q.Unit.Dimension)
}

func TestParse_UnknownUnit(t *testing.T) {
	_, err := Parse("3 furlongs")
	assert.Error(t, err)
}

func TestConvertTo(t *testing.T) {
	// GIVEN a memory quantity in GB
	q := New(2, Gigabyte)

	// WHEN converted to MB
	mb, err := q.ConvertTo(Megabyte)

	// THEN the value rescales
	require.NoError(t, err)
	assert.InDelta(t, 2000.0, mb.Value, 1e-9)
}

func TestConvertTo_DimensionMismatch(t *testing.T) {
	q := New(2, Gigabyte)
	_, err := q.ConvertTo(Second)
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	a := New(1, Gigabyte)
	b := New(1000, Megabyte)

	cmp, err := a.Compare(b)
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)

	c := New(2, Gigabyte)
	cmp, err = a.Compare(c)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)
}

func TestWithinTolerance(t *testing.T) {
	a := New(1.0, Micron)
	b := New(1.0001, Micron)

	ok, err := a.WithinTolerance(b, 1e-3, 1e-6)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.WithinTolerance(b, 1e-9, 1e-9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdd(t *testing.T) {
	a := New(1, Gigabyte)
	b := New(500, Megabyte)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, sum.Value, 1e-9)
	assert.Equal(t, Gigabyte, sum.Unit)
}

func TestMulDiv(t *testing.T) {
	a := New(4, Gigabyte)
	doubled := a.Mul(2)
	assert.InDelta(t, 8, doubled.Value, 1e-9)

	halved, err := a.Div(2)
	require.NoError(t, err)
	assert.InDelta(t, 2, halved.Value, 1e-9)

	_, err = a.Div(0)
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	assert.Equal(t, "2.5 GB", New(2.5, Gigabyte).String())
	assert.Equal(t, "42", New(42, Dimensionless).String())
}
