package controller

import "time"

// shouldAnticipate decides whether pre-heating should start: the estimated
// warm-up time (missing degrees times the per-degree rate) has caught up
// with the time remaining until the next zone change. Once the upcoming
// target is reached there is nothing left to warm up.
func shouldAnticipate(current, upcoming float64, until, perDegree time.Duration) bool {
	if upcoming <= current {
		return false
	}
	warmup := time.Duration((upcoming - current) * float64(perDegree))
	return until <= warmup
}
