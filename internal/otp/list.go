package otp

import (
	"time"

	"github.com/samber/lo"
)

// Prepend inserts e at the head of list and truncates the tail to max entries.
// The input slice is never mutated.
func Prepend(list []Entry, e Entry, max int) []Entry {
	if max <= 0 {
		max = MaxEntries
	}
	n := len(list) + 1
	if n > max {
		n = max
	}
	out := make([]Entry, 0, n)
	out = append(out, e)
	for i := 0; len(out) < n; i++ {
		out = append(out, list[i])
	}
	return out
}

// Expire drops entries observed at or before now-retention. Order is preserved.
func Expire(list []Entry, now time.Time, retention time.Duration) ([]Entry, int) {
	cutoff := now.Add(-retention)
	kept := lo.Filter(list, func(e Entry, _ int) bool {
		return e.ObservedAt.After(cutoff)
	})
	return kept, len(list) - len(kept)
}

// Clone returns a copy that callers may mutate freely. A nil list clones to an empty one.
func Clone(list []Entry) []Entry {
	out := make([]Entry, len(list))
	copy(out, list)
	return out
}

// Acknowledge marks the entry with id as acknowledged and reports whether it was found.
func Acknowledge(list []Entry, id string) ([]Entry, bool) {
	_, idx, ok := lo.FindIndexOf(list, func(e Entry) bool { return e.ID == id })
	if !ok {
		return list, false
	}
	out := Clone(list)
	out[idx].Acknowledged = true
	return out, true
}
