package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestConversionTableRoundTrip(t *testing.T) {
	table, err := newConversionTable(Product{ID: 1, MainUnitID: 1}, []UnitConversion{
		{UnitID: 1, Factor: dec("1")},
		{UnitID: 2, Factor: dec("12")},
	})
	require.NoError(t, err)

	inMain, err := table.toMain(dec("24"), 2)
	require.NoError(t, err)
	require.True(t, inMain.Equal(dec("2")))

	back, err := table.fromMain(inMain, 2)
	require.NoError(t, err)
	require.True(t, back.Equal(dec("24")))
}

func TestConversionTableNonUnitMainFactor(t *testing.T) {
	// gram-based product tracked in kilograms: main factor need not be 1
	table, err := newConversionTable(Product{ID: 1, MainUnitID: 5}, []UnitConversion{
		{UnitID: 5, Factor: dec("1000")},
		{UnitID: 6, Factor: dec("1")},
	})
	require.NoError(t, err)

	inMain, err := table.toMain(dec("2"), 6)
	require.NoError(t, err)
	require.True(t, inMain.Equal(dec("2000")))
}

func TestConversionTableRoundsToQuantityScale(t *testing.T) {
	table, err := newConversionTable(Product{ID: 1, MainUnitID: 1}, []UnitConversion{
		{UnitID: 1, Factor: dec("1")},
		{UnitID: 2, Factor: dec("3")},
	})
	require.NoError(t, err)

	inMain, err := table.toMain(dec("1"), 2)
	require.NoError(t, err)
	require.True(t, inMain.Equal(dec("0.333")))
}

func TestConversionTableMissingUnit(t *testing.T) {
	table, err := newConversionTable(Product{ID: 7, MainUnitID: 1}, []UnitConversion{
		{UnitID: 1, Factor: dec("1")},
	})
	require.NoError(t, err)

	_, err = table.toMain(dec("1"), 99)
	var missing *MissingConversionError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, int64(7), missing.ProductID)
	require.Equal(t, int64(99), missing.UnitID)
}

func TestConversionTableRequiresMainUnit(t *testing.T) {
	_, err := newConversionTable(Product{ID: 1, MainUnitID: 1}, []UnitConversion{
		{UnitID: 2, Factor: dec("12")},
	})
	require.ErrorIs(t, err, ErrNoMainUnit)
}

func TestUnitsOrderMainFirst(t *testing.T) {
	table, err := newConversionTable(Product{ID: 1, MainUnitID: 5}, []UnitConversion{
		{UnitID: 9, Factor: dec("2")},
		{UnitID: 5, Factor: dec("1")},
		{UnitID: 3, Factor: dec("4")},
	})
	require.NoError(t, err)
	require.Equal(t, []int64{5, 3, 9}, table.units())
}

func TestRounding(t *testing.T) {
	require.Equal(t, "1.235", roundQty(decimal.RequireFromString("1.23456")).String())
	require.Equal(t, "10.01", roundPrice(decimal.RequireFromString("10.005")).String())
}
