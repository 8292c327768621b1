// Package moderation scores free text against a fixed set of unsafe
// keywords.
package moderation

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultThreshold is the score at or above which a prompt is rejected.
const DefaultThreshold = 0.15

var unsafeKeywords = []string{
	// explicit
	"explicit", "pornographic", "xxx", "adult", "nsfw",
	"nude", "naked", "sex", "sexual", "erotic",

	// violence
	"violence", "violent", "gore", "blood", "kill", "murder",
	"weapon", "gun", "bomb", "terrorist", "terrorism",

	// hate
	"hate", "racist", "racism", "sexist", "sexism",
	"discriminate", "discrimination", "slur",

	// illegal
	"illegal", "crime", "criminal", "drug", "cocaine",
	"heroin", "meth", "steal", "robbery", "fraud",

	// self-harm
	"suicide", "self-harm", "cutting", "overdose",
}

type Result struct {
	Safe      bool     `json:"is_safe"`
	Score     float64  `json:"score"`
	Reason    string   `json:"reason"`
	Threshold float64  `json:"threshold"`
	Matches   []string `json:"-"`
}

type Filter struct {
	threshold float64
	keywords  []string
}

// New returns a Filter that rejects prompts scoring at or above threshold.
// A threshold outside (0, 1] falls back to DefaultThreshold.
func New(threshold float64) *Filter {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Filter{
		threshold: threshold,
		keywords:  unsafeKeywords,
	}
}

func (f *Filter) Threshold() float64 {
	return f.threshold
}

// Score returns a value in [0, 1]; each matched keyword adds 1/(n/10)
// where n is the size of the keyword set.
func (f *Filter) Score(text string) (float64, []string) {
	if text == "" {
		return 0, nil
	}

	var (
		lower   = strings.ToLower(text)
		matches []string
	)
	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			matches = append(matches, kw)
		}
	}
	sort.Strings(matches)

	norm := float64(len(f.keywords)) / 10
	if norm < 1 {
		norm = 1
	}
	score := float64(len(matches)) / norm
	if score > 1 {
		score = 1
	}

	return score, matches
}

// Check scores text against the filter's threshold.
func (f *Filter) Check(text string) Result {
	return f.CheckWithThreshold(text, f.threshold)
}

// CheckWithThreshold is Check with a caller supplied threshold. A
// threshold outside [0, 1] is replaced by the filter's own.
func (f *Filter) CheckWithThreshold(text string, threshold float64) Result {
	if threshold < 0 || threshold > 1 {
		threshold = f.threshold
	}

	score, matches := f.Score(text)
	res := Result{
		Safe:      score < threshold,
		Score:     score,
		Threshold: threshold,
		Matches:   matches,
	}
	if res.Safe {
		res.Reason = "Content passed moderation"
	} else {
		res.Reason = fmt.Sprintf("Content flagged as unsafe (score: %.2f)", score)
	}

	return res
}
