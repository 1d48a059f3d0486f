// Copyright (C) 2025 Jeff Rose
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package notifications

import (
	"fmt"
)

const recoveryClass = "recovery"

// BuildMessage is the one line summary shared by every delivery method.
func BuildMessage(n Notification) string {
	if n.Class == recoveryClass {
		return fmt.Sprintf("%s (%s) recovered, status %s since %s",
			n.Check, n.Host, n.Status, n.Tokens["NOW_TIMESTAMP"])
	}
	return fmt.Sprintf("%s (%s) is %s for %s consecutive checks since %s",
		n.Check, n.Host, n.Status, n.Tokens["CONSECUTIVE_NOTOK"], n.Tokens["ALERT_TIMESTAMP"])
}

// GetLevel maps an escalation class to a log level.
func GetLevel(class, status string) NotificationLevel {
	switch {
	case class == recoveryClass:
		return InfoLevel
	case status == "unknown":
		return WarningLevel
	default:
		return ErrorLevel
	}
}
