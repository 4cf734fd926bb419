package models

import "strings"

// Severity is the ordered five-level finding severity.
type Severity string

// Severity levels, most severe first.
const (
	SeverityCritical      Severity = "CRITICAL"
	SeverityHigh          Severity = "HIGH"
	SeverityMedium        Severity = "MEDIUM"
	SeverityLow           Severity = "LOW"
	SeverityInformational Severity = "INFORMATIONAL"
)

// DefaultPriority is used for severities outside the known set.
const DefaultPriority = "3"

// ValidSeverities returns all severity levels, most severe first.
func ValidSeverities() []Severity {
	return []Severity{
		SeverityCritical,
		SeverityHigh,
		SeverityMedium,
		SeverityLow,
		SeverityInformational,
	}
}

// IsValid reports whether s is one of the five known levels.
func (s Severity) IsValid() bool {
	return s.rank() > 0
}

// Rank orders severities: CRITICAL=5 ... INFORMATIONAL=1, unknown=0.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInformational:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank() && s.rank() > 0
}

// Priority maps severity to the queue priority label, "1" (CRITICAL) through "5" (INFORMATIONAL).
// Unknown severities get the MEDIUM priority.
func (s Severity) Priority() string {
	switch s {
	case SeverityCritical:
		return "1"
	case SeverityHigh:
		return "2"
	case SeverityMedium:
		return "3"
	case SeverityLow:
		return "4"
	case SeverityInformational:
		return "5"
	default:
		return DefaultPriority
	}
}

// SeverityFromScore buckets a 0-10 numeric score (GuardDuty style).
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 7.0:
		return SeverityCritical
	case score >= 4.0:
		return SeverityHigh
	case score >= 1.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// NormalizeSeverity maps source labels onto the canonical levels.
// Labels it does not recognize are kept upper-cased so they still route with the default priority.
func NormalizeSeverity(label string) Severity {
	upper := strings.ToUpper(strings.TrimSpace(label))

	switch upper {
	case "CRITICAL", "VERY-HIGH", "VERY HIGH", "VERYHIGH":
		return SeverityCritical
	case "HIGH":
		return SeverityHigh
	case "MEDIUM", "MODERATE":
		return SeverityMedium
	case "LOW":
		return SeverityLow
	case "INFORMATIONAL", "INFO":
		return SeverityInformational
	case "":
		return SeverityMedium
	default:
		return Severity(upper)
	}
}
