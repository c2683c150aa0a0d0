package scheduler

import (
	"math"
	"sort"
	"time"
)

// Scorer rates a slot. gap is the length of the free gap the slot was taken
// from, timeOfDay the slot start as an offset from local midnight.
type Scorer func(gap time.Duration, timeOfDay time.Duration, weekday time.Weekday) float64

// ConstantScorer gives every slot the same confidence.
func ConstantScorer(confidence float64) Scorer {
	confidence = clamp01(confidence)
	return func(time.Duration, time.Duration, time.Weekday) float64 {
		return confidence
	}
}

// PreferenceScorer favours mid-morning and early-afternoon starts, longer
// gaps, and avoids late Friday afternoons.
func PreferenceScorer() Scorer {
	return func(gap time.Duration, timeOfDay time.Duration, weekday time.Weekday) float64 {
		score := 0.5

		hour := int(timeOfDay / time.Hour)
		switch {
		case hour >= 9 && hour < 12:
			score += 0.3
		case hour >= 13 && hour < 16:
			score += 0.2
		case hour == 12:
			score += 0.05
		}

		// Room on either side of the meeting.
		if gap >= 2*time.Hour {
			score += 0.1
		} else if gap < time.Hour {
			score -= 0.1
		}

		if weekday == time.Friday && hour >= 15 {
			score -= 0.2
		}
		if weekday == time.Monday && hour < 10 {
			score -= 0.1
		}

		return math.Round(clamp01(score)*100) / 100
	}
}

// RankByConfidence returns a copy of slots ordered by descending confidence.
// Equal scores keep chronological order.
func RankByConfidence(slots []FreeSlot) []FreeSlot {
	ranked := make([]FreeSlot, len(slots))
	copy(ranked, slots)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].Start.Before(ranked[j].Start)
	})
	return ranked
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sinceMidnight(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}
