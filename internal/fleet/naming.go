package fleet

import (
	"strconv"
	"strings"
)

// PatternPlaceholder marks one digit of the worker index in a bulk-create name pattern
const PatternPlaceholder = '#'

// Width returns the number of decimal digits of n
func Width(n int) int {
	if n < 1 {
		return 1
	}
	return len(strconv.Itoa(n))
}

// NamePattern returns prefix followed by one placeholder per digit of desiredCount,
// e.g. ("runner-", 12) -> "runner-##".
func NamePattern(prefix string, desiredCount int) string {
	return prefix + strings.Repeat(string(PatternPlaceholder), Width(desiredCount))
}

// WorkerName returns the deterministic name of worker index in a fleet of desiredCount,
// e.g. ("runner-", 3, 12) -> "runner-03".
func WorkerName(prefix string, index, desiredCount int) string {
	return ExpandPattern(NamePattern(prefix, desiredCount), index)
}

// ExpandPattern substitutes the contiguous run of placeholders in pattern with index,
// zero-padded to the length of the run. An index wider than the run is written in full.
// A pattern without placeholders gets the index appended.
func ExpandPattern(pattern string, index int) string {
	start := strings.IndexRune(pattern, PatternPlaceholder)
	if start < 0 {
		return pattern + strconv.Itoa(index)
	}
	end := start
	for end < len(pattern) && pattern[end] == PatternPlaceholder {
		end++
	}

	digits := strconv.Itoa(index)
	if pad := end - start - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	return pattern[:start] + digits + pattern[end:]
}

// ExpandNames expands pattern for indexes 1..count
func ExpandNames(pattern string, count int) []string {
	names := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		names = append(names, ExpandPattern(pattern, i))
	}
	return names
}

// ParseIndex extracts the worker index from an instance name.
// It returns false for names without prefix, with an empty or non-numeric suffix, or with index 0.
func ParseIndex(prefix, name string) (int, bool) {
	suffix, ok := strings.CutPrefix(name, prefix)
	if !ok || suffix == "" {
		return 0, false
	}
	for i := 0; i < len(suffix); i++ {
		if suffix[i] < '0' || suffix[i] > '9' {
			return 0, false
		}
	}
	index, err := strconv.Atoi(suffix)
	if err != nil || index == 0 {
		return 0, false
	}
	return index, true
}
