package playback

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CallEngine is the external voice/stream engine. It owns the actual audio
// transport; this package only queries it and asks it to end streams.
type CallEngine interface {
	// ListenerCount returns the number of participants in the chat's voice
	// session, including the assistant account itself.
	ListenerCount(ctx context.Context, chatID ChatID) (int, error)
	// PlayedSeconds returns how long the current track has been playing.
	PlayedSeconds(ctx context.Context, chatID ChatID) (int, error)
	// EndStream stops the chat's stream and releases engine-side resources.
	EndStream(ctx context.Context, chatID ChatID) error
}

// Transport is the external messaging layer used for user notifications
// and assistant-session chat membership.
type Transport interface {
	// NotifyChat sends a text message to the chat.
	NotifyChat(ctx context.Context, chatID ChatID, text string) error
	// ListDialogs enumerates the chats the assistant session has joined,
	// direct-message peers included; callers filter with ChatID.IsGroup.
	ListDialogs(ctx context.Context, sessionID SessionID) ([]ChatID, error)
	// LeaveChat makes the assistant session leave the chat. It may return a
	// *RateLimitedError carrying the remote wait, or an error wrapping
	// ErrPermanent for rejections that will not succeed on retry.
	LeaveChat(ctx context.Context, sessionID SessionID, chatID ChatID) error
}

// Flags exposes the operator toggles stored outside this core
// (bot database / deployment config).
type Flags interface {
	AutoEndEnabled(ctx context.Context, botID int64) bool
	AutoLeaveEnabled(ctx context.Context) bool
}

// Fleet enumerates the assistant sessions this deployment manages.
type Fleet interface {
	ListAssistantSessions(ctx context.Context) ([]SessionID, error)
}

// ErrPermanent marks a remote rejection that must not be retried.
var ErrPermanent = errors.New("permanent remote error")

// RateLimitedError is returned by Transport.LeaveChat when the remote side
// imposes a flood wait before the operation may be retried.
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.Wait)
}

// AsRateLimited unwraps err into a *RateLimitedError if it is one.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
