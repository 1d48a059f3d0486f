package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile("   ")
	assert.ErrorIs(t, err, ErrEmptyCondition)

	_, err = Compile("consecutive >")
	assert.ErrorIs(t, err, ErrInvalidSyntax)

	_, err = Compile("consecutive + 1")
	assert.ErrorIs(t, err, ErrInvalidSyntax, "non boolean expressions are rejected")

	_, err = Compile("unknownVar == 1")
	assert.ErrorIs(t, err, ErrInvalidSyntax)
}

func TestFilter_Evaluate(t *testing.T) {
	tests := []struct {
		name      string
		condition string
		params    EvaluationParams
		want      bool
	}{
		{
			name:      "status match",
			condition: `status == "fail"`,
			params:    EvaluationParams{Status: "fail"},
			want:      true,
		},
		{
			name:      "status mismatch",
			condition: `status == "fail"`,
			params:    EvaluationParams{Status: "unknown"},
			want:      false,
		},
		{
			name:      "streak and host",
			condition: `consecutive >= 3 && host startsWith "db"`,
			params:    EvaluationParams{Consecutive: 4, Host: "db1.example.com"},
			want:      true,
		},
		{
			name:      "duration literal",
			condition: `downtime > 5m`,
			params:    EvaluationParams{Downtime: 6 * time.Minute},
			want:      true,
		},
		{
			name:      "duration literal not reached",
			condition: `downtime > 5m`,
			params:    EvaluationParams{Downtime: 4 * time.Minute},
			want:      false,
		},
		{
			name:      "tag membership",
			condition: `"db" in tags`,
			params:    EvaluationParams{Tags: []string{"prod", "db"}},
			want:      true,
		},
		{
			name:      "untagged",
			condition: `"db" in tags`,
			params:    EvaluationParams{},
			want:      false,
		},
		{
			name:      "name membership",
			condition: `name in ["web", "mail"]`,
			params:    EvaluationParams{Name: "mail"},
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(tt.condition)
			require.NoError(t, err)

			got, err := f.Evaluate(tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_NilPasses(t *testing.T) {
	var f *Filter
	ok, err := f.Evaluate(EvaluationParams{})
	require.NoError(t, err)
	assert.True(t, ok)
}
