package taskflow

import (
	"math"
	"time"
)

// PriorityFunc maps a task key and its declared priority to the score
// used for ranking.
type PriorityFunc func(key any, declared float64) float64

// AgingFunc returns the effective score of a task with the given score
// that has been ready for waited. It must not decrease as waited grows,
// so a waiting task is eventually ranked above any newcomer.
type AgingFunc func(score float64, waited time.Duration) float64

// LinearAging adds rate points per second of waiting.
// Panics if rate is negative.
func LinearAging(rate float64) AgingFunc {
	if rate < 0 {
		panic("taskflow: LinearAging requires rate >= 0")
	}
	return func(score float64, waited time.Duration) float64 {
		return score + rate*waited.Seconds()
	}
}

// LogAging adds rate points per doubling of the wait measured in
// seconds. Young tasks age quickly and old ones slowly.
// Panics if rate is negative.
func LogAging(rate float64) AgingFunc {
	if rate < 0 {
		panic("taskflow: LogAging requires rate >= 0")
	}
	return func(score float64, waited time.Duration) float64 {
		return score + rate*math.Log2(1+waited.Seconds())
	}
}

// NoAging ranks by score alone.
func NoAging() AgingFunc {
	return func(score float64, _ time.Duration) float64 { return score }
}
