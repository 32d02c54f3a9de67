package evaluation

import "strings"

// Status represents the lifecycle state of an evaluation record.
type Status string

const (
	StatusPending         Status = "pending"
	StatusReviewRequested Status = "review_requested"
	StatusSubmitted       Status = "submitted"
)

var allStatuses = []Status{
	StatusPending,
	StatusReviewRequested,
	StatusSubmitted,
}

var statusRank = map[Status]int{
	StatusPending:         0,
	StatusReviewRequested: 1,
	StatusSubmitted:       2,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status. Legacy spellings written
// by older clients ("review-requested", "completed") are accepted.
func ParseStatus(value string) (Status, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "":
		return "", false
	case "review-requested", "reviewrequested", "review":
		return StatusReviewRequested, true
	case "completed", "evaluated", "done":
		return StatusSubmitted, true
	}
	status := Status(normalized)
	if _, ok := statusRank[status]; ok {
		return status, true
	}
	return "", false
}

// Rank orders statuses along the forward lifecycle.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Bucket is the storage folder a record lives in for a given status.
type Bucket string

const (
	BucketPending   Bucket = "pending"
	BucketCompleted Bucket = "completed"
)

// Bucket maps a status to its storage bucket.
func (s Status) Bucket() Bucket {
	if s == StatusSubmitted {
		return BucketCompleted
	}
	return BucketPending
}

// Buckets returns the buckets in listing precedence order.
func Buckets() []Bucket {
	return []Bucket{BucketPending, BucketCompleted}
}
