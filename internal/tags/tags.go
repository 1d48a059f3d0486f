// Package tags handles the free form labels attached to checks.
package tags

import "strings"

// Merge concatenates the lists into one, lower cased, without blanks or
// repeats, keeping the first seen order.
func Merge(lists ...[]string) []string {
	seen := make(map[string]bool)
	var merged []string

	for _, list := range lists {
		for _, tag := range list {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			merged = append(merged, tag)
		}
	}
	return merged
}

// HasMatching reports whether any selector tag is carried by tags. An empty
// selector matches everything.
func HasMatching(tags, selector []string) bool {
	if len(selector) == 0 {
		return true
	}

	tagMap := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tagMap[tag] = true
	}

	for _, want := range selector {
		if tagMap[strings.ToLower(strings.TrimSpace(want))] {
			return true
		}
	}
	return false
}
