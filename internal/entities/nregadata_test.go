package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiscalMonthIndex(t *testing.T) {
	cases := map[string]int{
		"Apr":       1,
		"April":     1,
		"DEC":       9,
		"january":   10,
		" Mar ":     12,
		"":          0,
		"Ju":        0,
		"Smarch":    0,
		"September": 6,
	}
	for month, want := range cases {
		assert.Equal(t, want, FiscalMonthIndex(month), "month %q", month)
	}
}

func TestNewerOrdersByFiscalYearThenMonth(t *testing.T) {
	jan25 := NregaRecord{FinYear: "2024-2025", Month: "Jan"}
	apr24 := NregaRecord{FinYear: "2024-2025", Month: "Apr"}
	may25 := NregaRecord{FinYear: "2025-2026", Month: "May"}

	assert.True(t, Newer(jan25, apr24), "January closes the fiscal year that April opens")
	assert.False(t, Newer(apr24, jan25))
	assert.True(t, Newer(may25, jan25))
	assert.False(t, Newer(jan25, jan25))
}

func TestSetFieldAndMetrics(t *testing.T) {
	var rec NregaRecord
	require.True(t, rec.SetField("district_name", "PUNE"))
	require.True(t, rec.SetField("Wages", "1234.5"))
	require.True(t, rec.SetField("percentage_payments_gererated_within_15_days", "99.1"))
	assert.False(t, rec.SetField("not_a_field", "x"))

	assert.Equal(t, "PUNE", rec.DistrictName)
	assert.Equal(t, "1234.5", rec.Wages)

	metrics := rec.Metrics()
	for _, m := range metrics {
		assert.NotEqual(t, "district_name", m.Key, "identity fields are not metrics")
	}
	assert.Len(t, metrics, len(FieldNames())-6)
	assert.Equal(t, "Approved_Labour_Budget", metrics[0].Key)
	assert.Equal(t, Metric{Key: "Remarks", Value: ""}, metrics[len(metrics)-1])
}

func TestDistrictKey(t *testing.T) {
	assert.Equal(t, "PUNE", DistrictKey("  pune "))
	assert.Equal(t, "SOUTH GOA", DistrictKey("South Goa"))
}
