package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecouncil/tradecouncil/internal/errs"
)

func TestValidateTicker(t *testing.T) {
	valid := []string{"A", "AAPL", "aapl", " msft ", "BRK.B", "005930.KS", "RDS.A", "ABCDEFGHI"}
	for _, in := range valid {
		t.Run("valid_"+in, func(t *testing.T) {
			got, err := ValidateTicker(in)
			require.NoError(t, err)
			assert.Equal(t, strings.ToUpper(strings.TrimSpace(in)), got)
		})
	}

	invalid := []string{"", " ", "TOOLONGTICKER", "AAPL..B", ".AAPL", "AAPL.", "AA PL", "AAPL-B", "ABCDEF.HIJK", "ABCDEFGHIJK"}
	for _, in := range invalid {
		t.Run("invalid_"+in, func(t *testing.T) {
			_, err := ValidateTicker(in)
			require.Error(t, err)
			assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
		})
	}
}

func TestValidateTickerLengthBound(t *testing.T) {
	// Nine base chars plus a three-char suffix exceeds the 10-char cap even
	// though both segments are individually in range.
	_, err := ValidateTicker("ABCDEFGHI.KSX")
	assert.Error(t, err)
}

func TestValidateAnalysisDate(t *testing.T) {
	d, err := ValidateAnalysisDate("2025-01-20")
	require.NoError(t, err)
	assert.Equal(t, 2025, d.Year())
	assert.Equal(t, 20, d.Day())

	for _, in := range []string{"not-a-date", "2025-13-01", "01/20/2025", "2025-01-20T10:00:00Z", ""} {
		_, err := ValidateAnalysisDate(in)
		assert.Error(t, err, in)
	}
}

func TestValidateUsername(t *testing.T) {
	u, err := ValidateUsername(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, "admin", u)

	for _, in := range []string{"ab", "has space", "UPPER!", ""} {
		_, err := ValidateUsername(in)
		assert.Error(t, err, in)
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, ClampLimit(0, 20, 100))
	assert.Equal(t, 20, ClampLimit(-5, 20, 100))
	assert.Equal(t, 100, ClampLimit(500, 20, 100))
	assert.Equal(t, 7, ClampLimit(7, 20, 100))
}

func TestValidatorAccumulates(t *testing.T) {
	v := NewValidator()
	v.Required("ticker", "")
	v.Range("days", 5000, 1, 2000)
	v.OneOf("aggregation", "weekly", "daily", "monthly")

	err := v.Err()
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
	assert.Contains(t, err.Error(), "ticker")
	assert.Contains(t, err.Error(), "days")
	assert.Contains(t, err.Error(), "aggregation")
}

func TestValidatorNoErrors(t *testing.T) {
	v := NewValidator()
	v.Required("ticker", "AAPL")
	v.Range("days", 30, 1, 2000)
	assert.NoError(t, v.Err())
}
