package regression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goregress/domain/core"
	"goregress/domain/regression"
)

func TestInterceptSuffix(t *testing.T) {
	tests := []struct {
		name string
		term regression.Term
		rule regression.ZeroInterceptRule
		want string
	}{
		{"no rule", regression.Term{"age"}, nil, " + 1"},
		{"substring match", regression.Term{"age_decades"}, regression.ZeroInterceptRule{"age"}, " - 1"},
		{"any predictor in term", regression.Term{"sex", "smoking_age"}, regression.ZeroInterceptRule{"age"}, " - 1"},
		{"no match", regression.Term{"sex", "bmi"}, regression.ZeroInterceptRule{"age", "stage"}, " + 1"},
		{"empty pattern ignored", regression.Term{"sex"}, regression.ZeroInterceptRule{""}, " + 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InterceptSuffix(tt.term, tt.rule))
		})
	}
}

func TestBuildFormula(t *testing.T) {
	bundle := buildBundle(t, []string{"TP53"}, []string{"age_decades", "sex"}, 6)

	f, err := BuildFormula("TP53", regression.Term{"age_decades", "sex"}, regression.ZeroInterceptRule{"age"}, bundle)
	require.NoError(t, err)
	assert.Equal(t, "TP53 ~ age_decades+sex - 1", f.String())
	assert.False(t, f.Intercept)

	f, err = BuildFormula("TP53", regression.Term{"sex"}, regression.ZeroInterceptRule{"age"}, bundle)
	require.NoError(t, err)
	assert.Equal(t, "TP53 ~ sex + 1", f.String())

	t.Run("missing predictor", func(t *testing.T) {
		_, err := BuildFormula("TP53", regression.Term{"bmi"}, nil, bundle)
		assert.True(t, core.IsInputShapeError(err))
	})
	t.Run("missing element", func(t *testing.T) {
		_, err := BuildFormula("KRAS", regression.Term{"sex"}, nil, bundle)
		assert.True(t, core.IsInputShapeError(err))
	})
	t.Run("empty term", func(t *testing.T) {
		_, err := BuildFormula("TP53", nil, nil, nil)
		assert.True(t, core.IsInputShapeError(err))
	})
	t.Run("nil schema skips validation", func(t *testing.T) {
		_, err := BuildFormula("KRAS", regression.Term{"bmi"}, nil, nil)
		assert.NoError(t, err)
	})
}
