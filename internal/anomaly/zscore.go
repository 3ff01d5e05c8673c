package anomaly

import "math"

// Severity levels for flagged observations.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ZScoreResult contains the deviation of one value from its linear reference.
type ZScoreResult struct {
	ZScore   float64
	Severity string
}

// ZScoreCheck scores value against a reference mean and standard deviation.
// Severity mapping:
//   - info: |z| < threshold
//   - warning: |z| >= threshold and |z| < threshold+1
//   - critical: |z| >= threshold+1
func ZScoreCheck(value, mean, stdDev, threshold float64) ZScoreResult {
	stdDev = math.Abs(stdDev)
	if stdDev == 0 {
		return ZScoreResult{Severity: SeverityInfo}
	}
	z := (value - mean) / stdDev
	absZ := math.Abs(z)

	switch {
	case absZ >= threshold+1:
		return ZScoreResult{ZScore: z, Severity: SeverityCritical}
	case absZ >= threshold:
		return ZScoreResult{ZScore: z, Severity: SeverityWarning}
	default:
		return ZScoreResult{ZScore: z, Severity: SeverityInfo}
	}
}
