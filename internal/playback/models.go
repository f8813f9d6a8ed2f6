package playback

import "time"

// ChatID identifies a group or channel conversation. Following the
// platform convention, group/channel IDs are negative and direct-message
// peer IDs are positive.
type ChatID int64

// IsGroup reports whether the ID refers to a group or channel rather than
// a direct-message peer.
func (id ChatID) IsGroup() bool { return id < 0 }

// SessionID identifies one assistant session (a bot-controlled account
// that joins voice chats on the bot's behalf).
type SessionID string

// Platform tags where a queued track was resolved from.
type Platform string

const (
	PlatformYouTube    Platform = "youtube"
	PlatformSpotify    Platform = "spotify"
	PlatformJioSaavn   Platform = "jiosaavn"
	PlatformSoundCloud Platform = "soundcloud"
	PlatformTelegram   Platform = "telegram"
	PlatformOther      Platform = "other"
)

// QueuedTrack is one track in a chat's playback queue.
// This also matches the JSON shape served by the control plane.
type QueuedTrack struct {
	Name        string   `json:"name"`
	Artist      string   `json:"artist"`
	DurationSec int      `json:"duration_sec"`
	Platform    Platform `json:"platform"`

	// FilePath is the resolved local media reference; empty until the
	// downloader has produced a file.
	FilePath string `json:"file_path,omitempty"`

	RequestedBy string `json:"requested_by"`
	Loop        int    `json:"loop"`
	Video       bool   `json:"video"`
}

// ChatPlaybackState holds all in-memory playback state for one chat.
// The head of Queue is the track currently believed to be streaming;
// popping the head is the only way playback advances.
type ChatPlaybackState struct {
	ID           ChatID
	Queue        []QueuedTrack
	Active       bool
	LastActivity time.Time
}

// ReapDecision is the outcome of one inactivity check for one chat.
type ReapDecision int

const (
	// ReapSkipListeners: the session still has at least one real listener.
	ReapSkipListeners ReapDecision = iota
	// ReapSkipTooEarly: the track has not played long enough to judge.
	ReapSkipTooEarly
	// ReapEnded: the session was abandoned and has been ended.
	ReapEnded
	// ReapError: a remote check failed; no state was changed.
	ReapError
)

func (d ReapDecision) String() string {
	switch d {
	case ReapSkipListeners:
		return "skip_listeners"
	case ReapSkipTooEarly:
		return "skip_too_early"
	case ReapEnded:
		return "ended"
	case ReapError:
		return "error"
	default:
		return "unknown"
	}
}

// FleetLeaveResult summarizes one leave pass for one assistant session.
// Used for logging and metrics only; never persisted.
type FleetLeaveResult struct {
	PassID    string        `json:"pass_id"`
	SessionID SessionID     `json:"session_id"`
	Evaluated int           `json:"evaluated"`
	Left      int           `json:"left"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}
