package checkers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whiskeyjimbo/Watchman/internal/subst"
	"go.uber.org/zap"
)

func TestProgramChecker(t *testing.T) {
	tests := []struct {
		name       string
		command    string
		timeout    time.Duration
		tokens     subst.Values
		wantStatus Status
	}{
		{name: "success", command: "true", wantStatus: Ok},
		{name: "nonzero exit", command: "false", wantStatus: Fail},
		{
			name:       "tokens expanded per word",
			command:    `sh -c 'test "$0" = "mail relay"' %DISPLAY_NAME%`,
			tokens:     subst.Values{"DISPLAY_NAME": "mail relay"},
			wantStatus: Ok,
		},
		{
			name:       "exit code from token",
			command:    `sh -c 'exit %CODE%'`,
			tokens:     subst.Values{"CODE": "3"},
			wantStatus: Fail,
		},
		{name: "missing binary", command: "/nonexistent/watchman-probe", wantStatus: Unknown},
		{name: "timeout", command: "sleep 5", timeout: time.Second, wantStatus: Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewProgramChecker(Settings{
				Logger:  zap.NewNop().Sugar(),
				Program: &ProgramSettings{Command: tt.command, Timeout: tt.timeout},
			})
			require.NoError(t, err)

			res := c.Check(context.Background(), Target{Name: tt.name, Tokens: tt.tokens})
			assert.Equal(t, tt.wantStatus, res.Status, "error: %v", res.Error)
			if tt.wantStatus == Ok {
				assert.NoError(t, res.Error)
			} else {
				assert.Error(t, res.Error)
			}
		})
	}
}

func TestNewProgramChecker_Invalid(t *testing.T) {
	_, err := NewProgramChecker(Settings{Logger: zap.NewNop().Sugar(), Program: &ProgramSettings{}})
	assert.Error(t, err)

	_, err = NewProgramChecker(Settings{Logger: zap.NewNop().Sugar(), Program: &ProgramSettings{Command: `echo "unterminated`}})
	assert.Error(t, err)
}
