package port

import "context"

// MessageLedger records which inbound messages have already been claimed.
type MessageLedger interface {
	// SetIdempotency claims a key, returns false if it is already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key so the message can be handled again
	ReleaseIdempotency(ctx context.Context, key string) error
}
