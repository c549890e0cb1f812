// Package scorer compares guesses against clues.
package scorer

import (
	"math"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultThreshold is the similarity a wrong guess must exceed to be reported as close.
const DefaultThreshold = 60

type Verdict int

const (
	Miss Verdict = iota
	Close
	Exact
)

func (v Verdict) String() string {
	switch v {
	case Exact:
		return "exact"
	case Close:
		return "close"
	default:
		return "miss"
	}
}

// Ratio returns a 0-100 similarity of a and b: twice the number of matching
// runes over the combined length, as computed by a sequence matcher.
// Comparison is case-insensitive, halves round to even.
func Ratio(a, b string) int {
	m := difflib.NewMatcher(runes(strings.ToLower(a)), runes(strings.ToLower(b)))
	return int(math.RoundToEven(100 * m.Ratio()))
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// Evaluate scores guess against clue. A wrong guess is close only when
// its ratio is strictly greater than threshold.
func Evaluate(guess, clue string, threshold int) Verdict {
	if strings.EqualFold(guess, clue) {
		return Exact
	}
	if Ratio(guess, clue) > threshold {
		return Close
	}
	return Miss
}
