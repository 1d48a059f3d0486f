// Package subst builds the %TOKEN% table exposed to program commands, log
// lines and mail subjects, and expands templates against it.
package subst

import (
	"strconv"
	"strings"
	"time"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	ymdLayout       = "20060102"
)

// Values maps token names to their expansion.
type Values map[string]string

// CheckView is the part of a check record visible to templates.
type CheckView struct {
	DisplayName string
	Host        string
	Status      string
	StatusNum   int
	Consecutive int
	// AlertSince marks the start of the current streak.
	AlertSince time.Time
	LoopCount  int
}

type AlertView struct {
	Name       string
	Method     string
	Status     string
	StatusNum  int
	Seq        int
	NbFailures int
}

// Tokens computes the table for one check, optionally seen through one
// alert binding. It holds no state between calls.
func Tokens(check CheckView, alert *AlertView, now time.Time) Values {
	v := Values{
		"DISPLAY_NAME":      check.DisplayName,
		"HOST_NAME":         check.Host,
		"STATUS":            check.Status,
		"STATUS_NUM":        strconv.Itoa(check.StatusNum),
		"CONSECUTIVE_NOTOK": strconv.Itoa(check.Consecutive),
		"LOOP_COUNT":        strconv.Itoa(check.LoopCount),
		"TAB":               "\t",
	}
	addTime(v, "NOW", now)

	since := check.AlertSince
	if since.IsZero() {
		since = now
	}
	addTime(v, "ALERT", since)

	if alert != nil {
		v["ALERT_NAME"] = alert.Name
		v["ALERT_METHOD"] = alert.Method
		v["ALERT_STATUS"] = alert.Status
		v["ALERT_STATUS_NUM"] = strconv.Itoa(alert.StatusNum)
		v["ALERT_SEQ"] = strconv.Itoa(alert.Seq)
		v["ALERT_NB_FAILURES"] = strconv.Itoa(alert.NbFailures)
	}
	return v
}

func addTime(v Values, prefix string, t time.Time) {
	v[prefix+"_TIMESTAMP"] = t.Format(timestampLayout)
	v[prefix+"_YMD"] = t.Format(ymdLayout)
	v[prefix+"_YEAR"] = t.Format("2006")
	v[prefix+"_MONTH"] = t.Format("01")
	v[prefix+"_DAY"] = t.Format("02")
	v[prefix+"_HOUR"] = t.Format("15")
	v[prefix+"_MINUTE"] = t.Format("04")
	v[prefix+"_SECOND"] = t.Format("05")
}

// Expand replaces every %NAME% in template, NAME being upper case letters,
// digits and underscores. "%%" yields a single percent and any other "%"
// is copied as is. Unknown names expand to nothing unless markUnknown is
// set, in which case they show up as <?NAME?>.
func (v Values) Expand(template string, markUnknown bool) string {
	if !strings.Contains(template, "%") {
		return template
	}

	var b strings.Builder
	b.Grow(len(template))
	for {
		start := strings.IndexByte(template, '%')
		if start < 0 {
			b.WriteString(template)
			break
		}
		b.WriteString(template[:start])
		rest := template[start+1:]
		end := strings.IndexByte(rest, '%')
		if end < 0 {
			b.WriteString(template[start:])
			break
		}

		name := rest[:end]
		if name != "" && !isTokenName(name) {
			// a lone percent sign, the next one may open a token
			b.WriteByte('%')
			template = rest
			continue
		}
		switch value, ok := v[name]; {
		case name == "":
			b.WriteByte('%')
		case ok:
			b.WriteString(value)
		case markUnknown:
			b.WriteString("<?" + name + "?>")
		}
		template = rest[end+1:]
	}
	return b.String()
}

func isTokenName(name string) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}
