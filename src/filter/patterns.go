package filter

import (
	"regexp"
	"unicode"
)

const (
	maxCharRun    = 10 // a single character may repeat this many times
	maxUnitLength = 10 // longest unit checked for contiguous repetition
	minUnitRepeat = 5  // copies following the first that trigger rejection
)

var (
	urlPattern     = regexp.MustCompile(`(?i)https?://\S+`)
	promoPattern   = regexp.MustCompile(`(?i)\b(?:buy|sell|cheap|discount|offer|deal)\b`)
	urgencyPattern = regexp.MustCompile(`(?i)\b(?:now|today|limited)\b`)
	capsPattern    = regexp.MustCompile(`[A-Z]{20,}`)
)

// screen returns the first pattern text matches, or ReasonNone.
func screen(text string) Reason {
	runes := []rune(text)
	switch {
	case hasCharRun(runes, maxCharRun+1):
		return ReasonRepeatedChar
	case urlPattern.MatchString(text):
		return ReasonURL
	case promoPattern.MatchString(text) && urgencyPattern.MatchString(text):
		return ReasonSpamKeywords
	case hasRepeatedUnit(runes, maxUnitLength, minUnitRepeat):
		return ReasonRepeatedPattern
	case capsPattern.MatchString(text):
		return ReasonExcessiveCaps
	}
	return ReasonNone
}

// hasCharRun reports whether some character occurs at least n times in a row,
// ignoring case. Newlines never count.
func hasCharRun(runes []rune, n int) bool {
	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] != '\n' && foldEqual(runes[i], runes[i-1]) {
			run++
			if run >= n {
				return true
			}
			continue
		}
		run = 1
	}
	return false
}

// hasRepeatedUnit reports whether a unit of 1..maxLen characters is followed
// by at least repeats further contiguous copies of itself, ignoring case.
// Units never span a newline.
//
// For a unit length L, position j continues the pattern when
// runes[j] == runes[j-L]; a streak of repeats*L such positions means the L
// characters before the streak were copied repeats more times.
func hasRepeatedUnit(runes []rune, maxLen, repeats int) bool {
	for unit := 1; unit <= maxLen; unit++ {
		need := unit * repeats
		if len(runes) < unit+need {
			break
		}
		streak := 0
		for j := unit; j < len(runes); j++ {
			if runes[j] != '\n' && runes[j-unit] != '\n' && foldEqual(runes[j], runes[j-unit]) {
				streak++
				if streak >= need {
					return true
				}
				continue
			}
			streak = 0
		}
	}
	return false
}

func foldEqual(a, b rune) bool {
	return a == b || unicode.ToLower(a) == unicode.ToLower(b)
}
