package queue

import (
	"context"
	"time"
)

// Store persists queue items.
//
// A claim is ClaimNextPending followed by Claim(id), a single conditional
// update from pending to uploading; a false return means another claimant
// won. Transition stays idempotent for every other caller.
type Store interface {
	// Enqueue inserts a pending item and returns its id.
	Enqueue(ctx context.Context, item NewItem) (string, error)
	Get(ctx context.Context, id string) (*Item, error)
	// ClaimNextPending returns the oldest pending item, or nil when there is none.
	// It does not change the item's status.
	ClaimNextPending(ctx context.Context) (*Item, error)
	// Claim moves id from pending to uploading and stamps claimed_at. It
	// reports false when id is missing or no longer pending.
	Claim(ctx context.Context, id string) (bool, error)
	// Transition moves id to the given status and applies upd. It reports false
	// when id does not exist. Re-entering the current status is a no-op that
	// reports true. Any other move off the status graph returns
	// *InvalidTransitionError.
	Transition(ctx context.Context, id string, to Status, upd Update) (bool, error)
	// IncrementRetry atomically increments retry_count and returns the new value.
	IncrementRetry(ctx context.Context, id string) (int, error)
	// Touch refreshes the claim heartbeat of an uploading item.
	Touch(ctx context.Context, id string) error
	// RequeueStale moves uploading items claimed before cutoff back to pending.
	RequeueStale(ctx context.Context, cutoff time.Time) (int, error)

	// ListUploadedNotPosted returns uploaded items, oldest upload first.
	ListUploadedNotPosted(ctx context.Context, limit int) ([]Item, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Item, error)
	// RecentPosted returns posted items, newest first.
	RecentPosted(ctx context.Context, limit int) ([]Item, error)
	Stats(ctx context.Context) (Stats, error)

	// PurgeFailed deletes every failed item and returns how many were removed.
	PurgeFailed(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) (bool, error)

	Close() error
}
