// Package coordinator is the single authoritative writer of the entry list and
// settings.
//
// All mutations are funnelled through one mailbox goroutine (Run). A request is
// processed completely, including its persistence write, before the next one is
// taken, so concurrent detectors can never interleave list updates.
package coordinator
