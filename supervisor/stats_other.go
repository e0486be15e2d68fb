//go:build !linux

package supervisor

import "time"

// sampleStats has no non-Linux implementation; it degrades to the zero
// value, per spec.md §4.E's "not fatal" stats-failure policy.
func sampleStats(pid int, interval time.Duration) Stats {
	return Stats{}
}
