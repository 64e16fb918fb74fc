package queue

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusUploaded  Status = "uploaded"
	StatusPosted    Status = "posted"
	StatusFailed    Status = "failed"
)

// AllStatuses is the display order used by stats and listings.
var AllStatuses = []Status{StatusPending, StatusUploading, StatusUploaded, StatusPosted, StatusFailed}

// predecessors lists, for each target status, the statuses it may be entered from.
// pending is re-entered from uploading on retry and on stale-claim requeue.
var predecessors = map[Status][]Status{
	StatusUploading: {StatusPending},
	StatusPending:   {StatusUploading},
	StatusUploaded:  {StatusUploading},
	StatusFailed:    {StatusUploading},
	StatusPosted:    {StatusUploaded},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusUploaded, StatusPosted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether nothing moves an item out of s.
func (s Status) Terminal() bool { return s == StatusPosted || s == StatusFailed }

// Predecessors returns the statuses from which to can be entered.
func Predecessors(to Status) []Status {
	return append([]Status(nil), predecessors[to]...)
}

// CanTransition reports whether from→to is an edge of the status graph.
// A same-status request is not an edge; stores treat it as a no-op.
func CanTransition(from, to Status) bool {
	for _, p := range predecessors[to] {
		if p == from {
			return true
		}
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}
