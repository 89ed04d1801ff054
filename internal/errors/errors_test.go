package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"goregress/domain/core"
)

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "UNKNOWN"},
		{"config sentinel", core.NewConfigError("model", "missing"), CodeConfigInvalid},
		{"model fit sentinel", core.NewModelFitError("a ~ b + 1", core.ErrSingularDesign), CodeModelFit},
		{"input shape sentinel", core.NewInputShapeError("predictor", "x"), CodeInputShape},
		{"empty table", core.ErrEmptyTable, CodeEmptyTable},
		{"plain error", errors.New("boom"), CodeInternalError},
		{"app error", IOError("out.tsv", errors.New("disk full")), CodeIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetCode(tt.err))
		})
	}
}

func TestWrapKeepsCodeAndCause(t *testing.T) {
	base := StageFailed("multivariate", core.ErrEmptyTable)
	wrapped := Wrapf(base, "metric %s", "mutdensity")

	assert.Equal(t, CodeStageFailed, GetCode(wrapped))
	assert.True(t, errors.Is(wrapped, core.ErrEmptyTable))
	assert.Contains(t, wrapped.Error(), "metric mutdensity")
	assert.Nil(t, Wrap(nil, "ignored"))
}

func TestWithCode(t *testing.T) {
	err := WithCode(CodeDatabaseError, errors.New("conn refused"))
	assert.Equal(t, CodeDatabaseError, GetCode(err))
	assert.True(t, IsAppError(err))
	assert.False(t, IsAppError(errors.New("plain")))
}
