package apperr

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "unclassified", err: errors.New("boom"), want: nil},
		{name: "sentinel", err: ErrOutOfStock, want: ErrOutOfStock},
		{name: "wrapped", err: errors.Wrap(ErrNotFound, "order"), want: ErrNotFound},
		{name: "validation helper", err: Validationf("quantity %d out of range", 100), want: ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestValidationMessage(t *testing.T) {
	err := Validation("email is required")
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "email is required", err.Error())
}
