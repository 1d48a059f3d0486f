package loopprobe

import (
	"fmt"
	"math/rand"
	"time"
)

// ProductTag frames every reference so foreign mail never matches.
const ProductTag = "WATCHMAN"

// NewReference builds
//
//	WATCHMAN:<loop-id>:<10-digit-unix-time>-<6 digits>-<6 digits>:WATCHMAN
func NewReference(loopID string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%010d-%06d-%06d:%s",
		ProductTag, loopID, now.Unix()%10_000_000_000, rand.Intn(1_000_000), rand.Intn(1_000_000), ProductTag)
}

// BelongsToMe compares two references position by position. Positions
// holding a decimal digit on both sides match regardless of value, so the
// embedded time and random parts never matter while the textual skeleton
// does.
func BelongsToMe(expected, candidate string) bool {
	if len(expected) != len(candidate) {
		return false
	}
	for i := 0; i < len(expected); i++ {
		a, b := expected[i], candidate[i]
		if a == b {
			continue
		}
		if isDigit(a) && isDigit(b) {
			continue
		}
		return false
	}
	return true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
