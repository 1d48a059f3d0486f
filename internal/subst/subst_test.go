package subst

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokens(t *testing.T) {
	now := time.Date(2024, 3, 9, 7, 5, 3, 0, time.UTC)
	since := time.Date(2024, 3, 8, 23, 59, 58, 0, time.UTC)

	check := CheckView{
		DisplayName: "mail relay",
		Host:        "mx.example.com",
		Status:      "fail",
		StatusNum:   3,
		Consecutive: 4,
		AlertSince:  since,
		LoopCount:   2,
	}
	alert := &AlertView{Name: "oncall", Method: "smtp", Status: "fail", StatusNum: 1, Seq: 2, NbFailures: 1}

	v := Tokens(check, alert, now)

	want := map[string]string{
		"DISPLAY_NAME":      "mail relay",
		"HOST_NAME":         "mx.example.com",
		"STATUS":            "fail",
		"STATUS_NUM":        "3",
		"CONSECUTIVE_NOTOK": "4",
		"LOOP_COUNT":        "2",
		"TAB":               "\t",
		"NOW_TIMESTAMP":     "2024-03-09 07:05:03",
		"NOW_YMD":           "20240309",
		"NOW_YEAR":          "2024",
		"NOW_MONTH":         "03",
		"NOW_DAY":           "09",
		"NOW_HOUR":          "07",
		"NOW_MINUTE":        "05",
		"NOW_SECOND":        "03",
		"ALERT_TIMESTAMP":   "2024-03-08 23:59:58",
		"ALERT_YMD":         "20240308",
		"ALERT_NAME":        "oncall",
		"ALERT_METHOD":      "smtp",
		"ALERT_STATUS":      "fail",
		"ALERT_STATUS_NUM":  "1",
		"ALERT_SEQ":         "2",
		"ALERT_NB_FAILURES": "1",
	}
	for name, value := range want {
		assert.Equal(t, value, v[name], name)
	}
}

func TestTokens_WithoutAlert(t *testing.T) {
	now := time.Date(2024, 3, 9, 7, 5, 3, 0, time.UTC)
	v := Tokens(CheckView{DisplayName: "web"}, nil, now)

	_, ok := v["ALERT_NAME"]
	assert.False(t, ok)
	assert.Equal(t, v["NOW_TIMESTAMP"], v["ALERT_TIMESTAMP"])
}

func TestExpand(t *testing.T) {
	v := Values{"NAME": "web", "STATUS": "fail", "TAB": "\t"}

	tests := []struct {
		name        string
		template    string
		markUnknown bool
		want        string
	}{
		{name: "no tokens", template: "plain text", want: "plain text"},
		{name: "single", template: "%NAME% is down", want: "web is down"},
		{name: "adjacent", template: "%NAME%%TAB%%STATUS%", want: "web\tfail"},
		{name: "literal percent", template: "100%% %STATUS%", want: "100% fail"},
		{name: "unknown empty", template: "[%NOPE%]", want: "[]"},
		{name: "unknown marked", template: "[%NOPE%]", markUnknown: true, want: "[<?NOPE?>]"},
		{name: "unterminated", template: "load 50% now", want: "load 50% now"},
		{name: "lone percent before token", template: "disk 90% full, status %STATUS%", want: "disk 90% full, status fail"},
		{name: "two lone percents", template: "from 10% to 20% of %NAME%", want: "from 10% to 20% of web"},
		{name: "lowercase is not a token", template: "%name%", want: "%name%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Expand(tt.template, tt.markUnknown))
		})
	}
}
