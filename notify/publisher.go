// Package notify publishes job lifecycle events so idle workers can wake up
// ahead of their next poll. The queue is fully correct without a publisher;
// polling alone drains it, just with higher latency.
package notify

// Subjects for job lifecycle events.
const (
	SubjectJobCreated = "granary.jobs.created"
)

// Publisher delivers best-effort event notifications. Implementations must
// tolerate being called concurrently. A nil Publisher is valid everywhere
// one is accepted and means notifications are disabled.
type Publisher interface {
	Publish(subject string, data []byte) error
	Close()
}

// JobCreatedMessage is the payload published on SubjectJobCreated.
type JobCreatedMessage struct {
	JobID    string `json:"job_id"`
	JobType  string `json:"job_type"`
	Priority int    `json:"priority"`
}
