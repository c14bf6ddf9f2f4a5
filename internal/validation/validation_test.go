package validation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geethx/workshop/internal/apperr"
)

type sample struct {
	Code string `json:"code" validate:"required,max=4"`
	Role string `json:"role" validate:"omitempty,oneof=admin staff"`
}

func TestStructValid(t *testing.T) {
	require.NoError(t, Struct(sample{Code: "A1"}))
	require.NoError(t, Struct(sample{Code: "A1", Role: "staff"}))
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(sample{Code: "", Role: "owner"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	e, ok := apperr.As(err)
	require.True(t, ok)
	require.Len(t, e.Fields, 2)
	require.Equal(t, "code", e.Fields[0].Field)
	require.Equal(t, "required", e.Fields[0].Rule)
	require.Equal(t, "role", e.Fields[1].Field)
	require.Equal(t, "must be one of admin, staff", e.Fields[1].Message)
}

func TestStructMaxLength(t *testing.T) {
	err := Struct(sample{Code: "TOOLONG"})
	e, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, "max", e.Fields[0].Rule)
	require.Equal(t, "4", e.Fields[0].Param)
}
