package models

import "time"

// ToMillis converts a timestamp into the unix millisecond form stored in the database
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis is the inverse of ToMillis, always in UTC
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Reverse returns a reversed copy. Readers emit newest-first, the store wants oldest-first.
func Reverse[T any](in []T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
