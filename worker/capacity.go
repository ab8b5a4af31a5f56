package worker

import (
	"strings"
)

// Capacity errors mean the unit of work was too large for a fixed ceiling,
// not that the work itself is broken. They are logged with a concrete
// remediation before the job fails, because retrying the same size will
// fail the same way.

// IsCapacityError reports whether err is a known capacity-ceiling failure.
func IsCapacityError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "too many SQL variables") ||
		strings.Contains(msg, "too many variables") ||
		strings.Contains(msg, "string or blob too big")
}

// CapacityDiagnostic returns an actionable remediation for a capacity
// error, or "" when err is not one.
func CapacityDiagnostic(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "too many SQL variables"),
		strings.Contains(msg, "too many variables"):
		return "bulk insert exceeded the SQLite bound-parameter ceiling; lower queue.max_jobs_per_poll or the collection batch size so fewer rows are written per statement"
	case strings.Contains(msg, "string or blob too big"):
		return "a document exceeded the SQLite value size ceiling; lower embeddings.max_content_bytes so content is truncated before storage"
	default:
		return ""
	}
}
