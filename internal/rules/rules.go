// Package rules compiles the optional filter expression attached to an
// alert. A binding whose filter evaluates to false is skipped for the
// cycle.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	ErrEmptyCondition = errors.New("rule condition cannot be empty")
	ErrInvalidSyntax  = errors.New("invalid rule syntax")
)

type EvaluationParams struct {
	Name        string
	Host        string
	Status      string
	Consecutive int
	// Downtime is the age of the current streak.
	Downtime time.Duration
	Tags     []string
}

type Filter struct {
	Condition string
	program   *vm.Program
}

func (p EvaluationParams) env() map[string]interface{} {
	return map[string]interface{}{
		"name":        p.Name,
		"host":        p.Host,
		"status":      p.Status,
		"consecutive": p.Consecutive,
		"downtime":    timeDurationToSeconds(p.Downtime),
		"tags":        p.Tags,
	}
}

// Compile checks the condition once so configuration errors surface at
// startup instead of on the first failing cycle.
func Compile(condition string) (*Filter, error) {
	if strings.TrimSpace(condition) == "" {
		return nil, ErrEmptyCondition
	}

	normalized, err := normalizeCondition(condition)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize condition: %w", err)
	}

	program, err := expr.Compile(normalized, expr.Env(EvaluationParams{}.env()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}
	return &Filter{Condition: condition, program: program}, nil
}

// Evaluate reports whether the alert binding should be considered. A nil
// filter always passes.
func (f *Filter) Evaluate(params EvaluationParams) (bool, error) {
	if f == nil {
		return true, nil
	}
	result, err := expr.Run(f.program, params.env())
	if err != nil {
		return false, fmt.Errorf("rule evaluation failed: %w", err)
	}

	satisfied, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("rule must evaluate to boolean, got %T", result)
	}
	return satisfied, nil
}

// normalizeCondition rewrites duration literals such as 5m into seconds.
func normalizeCondition(condition string) (string, error) {
	words := strings.Split(condition, " ")
	for i, word := range words {
		dur, err := time.ParseDuration(word)
		if err == nil {
			words[i] = fmt.Sprintf("%d", int(dur.Seconds()))
		}
	}
	return strings.Join(words, " "), nil
}

func timeDurationToSeconds(d time.Duration) int {
	return int(d.Seconds())
}
