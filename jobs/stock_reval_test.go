package jobs

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	_ "github.com/batchline-erp/batchline-erp/testing"
)

func TestRowValueExactForDecimalPrices(t *testing.T) {
	require.True(t, rowValue(3, 1.10).Equal(decimal.RequireFromString("3.3")))
	require.True(t, rowValue(0.3, 0.1).Equal(decimal.RequireFromString("0.03")))
	require.True(t, rowValue(1000, 0.05).Equal(decimal.RequireFromString("50")))
}

func TestLedgerValueAccumulationHasNoDrift(t *testing.T) {
	// 10000 rows of balance 1 at price 0.1. Accumulating the same series in
	// float64 lands near 1000.0000000000016; the decimal sum is exact.
	total := decimal.Zero
	for i := 0; i < 10000; i++ {
		total = total.Add(rowValue(1, 0.1))
	}
	require.True(t, total.Equal(decimal.NewFromInt(1000)))
}
