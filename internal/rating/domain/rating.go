// Package domain holds the rating engine's value types: grades, rule
// dimensions, calculation methods, change reasons, rules, results and
// history rows.
package domain

import (
	"math"
	"strings"
)

// Rating is the ordinal quality grade of a lead. A is best.
type Rating string

const (
	RatingA Rating = "A"
	RatingB Rating = "B"
	RatingC Rating = "C"
	RatingD Rating = "D"
)

// Score cut points. A rating holds for every integer score at or above its
// threshold and below the next one up.
const (
	thresholdA = 90
	thresholdB = 70
	thresholdC = 50
)

// AllRatings lists grades from best to worst.
func AllRatings() []Rating {
	return []Rating{RatingA, RatingB, RatingC, RatingD}
}

// ParseRating accepts a grade letter in any case.
func ParseRating(s string) (Rating, bool) {
	r := Rating(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}

func (r Rating) Valid() bool {
	switch r {
	case RatingA, RatingB, RatingC, RatingD:
		return true
	}
	return false
}

// Rank is the ordinal used to detect upgrades and downgrades. Unknown is 0.
func (r Rating) Rank() int {
	switch r {
	case RatingA:
		return 4
	case RatingB:
		return 3
	case RatingC:
		return 2
	case RatingD:
		return 1
	}
	return 0
}

// MinScore is the lowest integer score mapping to r.
func (r Rating) MinScore() int {
	switch r {
	case RatingA:
		return thresholdA
	case RatingB:
		return thresholdB
	case RatingC:
		return thresholdC
	}
	return 0
}

// ExchangeValue is the number of points a lead of this grade costs to acquire.
func (r Rating) ExchangeValue() int {
	switch r {
	case RatingA:
		return 8
	case RatingB:
		return 4
	case RatingC:
		return 2
	case RatingD:
		return 1
	}
	return 0
}

func (r Rating) IsHighQuality() bool {
	return r == RatingA || r == RatingB
}

func (r Rating) String() string { return string(r) }

// RatingFromScore maps a score to its grade. The score is rounded half-up to
// an integer before comparison against the thresholds.
func RatingFromScore(score float64) Rating {
	rounded := int(math.Floor(score + 0.5))
	switch {
	case rounded >= thresholdA:
		return RatingA
	case rounded >= thresholdB:
		return RatingB
	case rounded >= thresholdC:
		return RatingC
	default:
		return RatingD
	}
}

// CompareRatings returns >0 when to ranks above from, <0 when below.
func CompareRatings(from, to Rating) int {
	return to.Rank() - from.Rank()
}
