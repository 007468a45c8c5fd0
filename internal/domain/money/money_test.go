package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/picklepot-store/internal/apperr"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRound(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "2.0784", want: "2.08"},
		{in: "3.405", want: "3.41"},
		{in: "0.005", want: "0.01"},
		{in: "0.004", want: "0"},
		{in: "10", want: "10"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.True(t, d(tt.want).Equal(Round(d(tt.in))), "got %s", Round(d(tt.in)))
		})
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "3.41", Percent(d("34.05"), d("10")).StringFixed(2))
	assert.Equal(t, "50.00", Percent(d("100"), d("50")).StringFixed(2))
}

func TestMinAndClamp(t *testing.T) {
	assert.True(t, d("1.5").Equal(Min(d("1.5"), d("2"))))
	assert.True(t, d("1.5").Equal(Min(d("2"), d("1.5"))))
	assert.True(t, decimal.Zero.Equal(NonNegative(d("-0.01"))))
	assert.True(t, d("0.01").Equal(NonNegative(d("0.01"))))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(d("12.99")))
	require.NoError(t, Validate(decimal.Zero))
	require.ErrorIs(t, Validate(d("-1")), apperr.ErrValidation)
	require.ErrorIs(t, Validate(d("1.001")), apperr.ErrValidation)
	require.ErrorIs(t, ValidatePositive(decimal.Zero), apperr.ErrValidation)
}

func TestParse(t *testing.T) {
	v, err := Parse("60.00")
	require.NoError(t, err)
	assert.True(t, d("60").Equal(v))

	_, err = Parse("sixty")
	require.ErrorIs(t, err, apperr.ErrValidation)
}
