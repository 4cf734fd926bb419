package engine

import (
	"strconv"
	"strings"
)

// ParseSummary extracts resource and action counts from engine stdout. A line mentioning
// "resources" sets the resource count and a line mentioning "action" sets the action count;
// later lines overwrite earlier ones. Lines without a usable count are ignored.
func ParseSummary(output string) (resources, actions int) {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "resources") {
			if n, ok := countFor(lower, "resource"); ok {
				resources = n
			}
		}
		if strings.Contains(lower, "action") {
			if n, ok := countFor(lower, "action"); ok {
				actions = n
			}
		}
	}
	return resources, actions
}

// countFor returns the integer immediately before the first word starting with keyword,
// falling back to the first integer on the line.
func countFor(line, keyword string) (int, bool) {
	fields := strings.Fields(line)
	for i, f := range fields {
		if i > 0 && strings.HasPrefix(f, keyword) {
			if n, err := strconv.Atoi(strings.Trim(fields[i-1], ",;:")); err == nil {
				return n, true
			}
		}
	}
	for _, f := range fields {
		if n, err := strconv.Atoi(strings.Trim(f, ",;:")); err == nil {
			return n, true
		}
	}
	return 0, false
}
