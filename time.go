package auth

import "time"

// IsWithinThresholdPeriod checks if t is within period of now
func IsWithinThresholdPeriod(now, t time.Time, period time.Duration) bool {
	return t.After(now.Add(-period))
}

// IsOutsideThresholdPeriod is the negation of IsWithinThresholdPeriod
func IsOutsideThresholdPeriod(now, t time.Time, period time.Duration) bool {
	return !IsWithinThresholdPeriod(now, t, period)
}
