package intel

import (
	"fmt"
	"time"
)

// Stability labels a file's churn level. The order stable < moderate <
// unstable is meaningful: higher churn never maps to a lower label.
type Stability string

const (
	// Stable is a file with low churn.
	Stable Stability = "stable"

	// Moderate is a file with mid-range churn.
	Moderate Stability = "moderate"

	// Unstable is a file with high churn.
	Unstable Stability = "unstable"
)

// String returns the string representation of the Stability.
func (s Stability) String() string {
	return string(s)
}

// IsValid returns true if the Stability is one of the defined constants.
func (s Stability) IsValid() bool {
	switch s {
	case Stable, Moderate, Unstable:
		return true
	default:
		return false
	}
}

// Rank returns the ordinal position for comparisons.
func (s Stability) Rank() int {
	switch s {
	case Stable:
		return 0
	case Moderate:
		return 1
	case Unstable:
		return 2
	default:
		return -1
	}
}

// Severity grades an insight. Ordered: info < warning < error < critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// String returns the string representation of the Severity.
func (s Severity) String() string {
	return string(s)
}

// IsValid returns true if the Severity is one of the defined constants.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	default:
		return false
	}
}

// Validate returns an error if the Severity is not valid.
func (s Severity) Validate() error {
	if !s.IsValid() {
		return fmt.Errorf("invalid severity: %q (must be one of: info, warning, error, critical)", s)
	}
	return nil
}

// Rank returns the ordinal position for comparisons.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// InsightKind names what an insight is about.
type InsightKind string

const (
	// VelocityDrop flags a falling commit rate.
	VelocityDrop InsightKind = "velocity_drop"

	// VelocityRise flags a rising commit rate.
	VelocityRise InsightKind = "velocity_rise"

	// FileHotspotKind flags a file with unstable churn.
	FileHotspotKind InsightKind = "file_hotspot"

	// LowActivity flags a window with no recorded work.
	LowActivity InsightKind = "low_activity"
)

// String returns the string representation of the InsightKind.
func (k InsightKind) String() string {
	return string(k)
}

// IsValid returns true if the InsightKind is one of the defined constants.
func (k InsightKind) IsValid() bool {
	switch k {
	case VelocityDrop, VelocityRise, FileHotspotKind, LowActivity:
		return true
	default:
		return false
	}
}

// Trend labels the direction of a velocity comparison.
type Trend string

const (
	Increasing Trend = "increasing"
	Decreasing Trend = "decreasing"
	Steady     Trend = "stable"
)

// String returns the string representation of the Trend.
func (t Trend) String() string {
	return string(t)
}

// MetricSnapshot is one day of repository activity. Immutable once written
// for its date; collection only appends.
type MetricSnapshot struct {
	Date         string `json:"date"`
	Commits      int    `json:"commits"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	Contributors int    `json:"contributors"`
}

// FileHotspot is the churn analysis of one file over a window.
// Churn is total edited lines divided by commits touching the file.
type FileHotspot struct {
	Path      string    `json:"path"`
	Commits   int       `json:"commits"`
	Edits     int       `json:"edits"`
	Churn     float64   `json:"churn"`
	Stability Stability `json:"stability"`
}

// VelocityReport compares the two halves of a window.
type VelocityReport struct {
	Trend      Trend   `json:"trend"`
	FirstHalf  int     `json:"first_half_commits"`
	SecondHalf int     `json:"second_half_commits"`
	DeltaRatio float64 `json:"delta_ratio"`
}

// Insight is a generated observation about the repository. Insights are
// derived from analyses on each generation pass and fully replaced, never
// edited by hand.
type Insight struct {
	ID        string      `json:"id"`
	Kind      InsightKind `json:"kind"`
	Severity  Severity    `json:"severity"`
	Message   string      `json:"message"`
	Path      string      `json:"path,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
