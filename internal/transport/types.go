package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ChannelRef identifies a delivery destination on the chat platform.
// ThreadID is the forum topic thread id (0 if none).
type ChannelRef struct {
	ChatID   int64
	ThreadID int
}

func (c ChannelRef) String() string {
	if c.ThreadID != 0 {
		return fmt.Sprintf("%d/%d", c.ChatID, c.ThreadID)
	}
	return fmt.Sprintf("%d", c.ChatID)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// ErrPermissionDenied marks a destination as permanently unusable:
// the bot was removed, the chat was deleted, or posting rights were revoked.
// Callers must not retry deliveries that fail with this error.
var ErrPermissionDenied = errors.New("transport: permission denied")

// RateLimitedError carries the platform's retry-after hint.
type RateLimitedError struct {
	After time.Duration
	Err   error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("transport: rate limited (retry after %s): %v", e.After, e.Err)
}
func (e *RateLimitedError) Unwrap() error             { return e.Err }
func (e *RateLimitedError) RetryAfter() time.Duration { return e.After }

// Messenger is the outbound messaging collaborator.
// Implementations map platform errors onto ErrPermissionDenied and
// RateLimitedError; anything else is treated as transient by callers.
type Messenger interface {
	Deliver(ctx context.Context, to ChannelRef, text string, opt *SendOptions) (MessageRef, error)
	Stop(ctx context.Context) error
}
