package detector

import "sort"

// defaultEpsilon is the numeric comparison tolerance used when none is
// configured. It suppresses floating point false positives without hiding
// real changes to scores or monetary amounts.
const defaultEpsilon = 1e-9

// Option configures a Detector.
type Option func(*detector)

// WithEpsilon sets the numeric comparison tolerance.
func WithEpsilon(epsilon float64) Option {
	return func(d *detector) {
		if epsilon >= 0 {
			d.epsilon = epsilon
		}
	}
}

// WithIgnorePaths excludes field paths from change detection.
func WithIgnorePaths(paths ...string) Option {
	return func(d *detector) {
		for _, p := range paths {
			d.ignorePaths[p] = true
		}
	}
}

// unionKeys returns the sorted union of both maps' keys.
func unionKeys[V any](a, b map[string]V) []string {
	seen := make(map[string]bool, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range b {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
