package queue

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("queue item not found")
	// ErrNoSource rejects items with neither a file reference nor a URL.
	ErrNoSource = errors.New("queue item has no file or url source")
)

// PersistenceError reports an unreachable backing store or a failed write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("queue store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// InvalidTransitionError rejects a status change that is not an edge of the graph.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.ID, e.From, e.To)
}

// ConfigurationError means the item cannot be processed at all.
type ConfigurationError struct {
	ID     string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("item %s: %s", e.ID, e.Reason)
}

func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}
