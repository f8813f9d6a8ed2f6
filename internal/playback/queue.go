package playback

import (
	"sync"
	"time"
)

// QueueStore is the concurrency-safe playback queue store shared between
// the foreground command path and the background jobs. It is the sole
// synchronization point for queue state: all access goes through its
// methods, and no caller holds a long-lived reference into it.
//
// Operations on a chat with no entry behave as if the queue were empty;
// they never fail.
type QueueStore struct {
	mu    sync.RWMutex
	store Store
}

// NewQueueStore constructs a queue store backed by a default in-memory Store.
func NewQueueStore() *QueueStore {
	return NewQueueStoreWithStore(NewInMemoryStore())
}

// NewQueueStoreWithStore constructs a queue store that uses the given Store.
// Useful for testing or for plugging in a different persistence backend.
func NewQueueStoreWithStore(store Store) *QueueStore {
	return &QueueStore{store: store}
}

// Enqueue appends track to the chat's queue, creating the entry if absent,
// and returns the resulting queue length. The new entry is marked active.
func (q *QueueStore) Enqueue(chatID ChatID, track QueuedTrack) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	chat := q.getOrCreateChatLocked(chatID)
	chat.Queue = append(chat.Queue, track)
	chat.LastActivity = time.Now().UTC()
	return len(chat.Queue)
}

// PeekHead returns the track currently playing (the queue head), if any.
func (q *QueueStore) PeekHead(chatID ChatID) (QueuedTrack, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	chat, ok := q.store.GetChat(chatID)
	if !ok || len(chat.Queue) == 0 {
		return QueuedTrack{}, false
	}
	return chat.Queue[0], true
}

// PeekNext returns the upcoming track (queue position 1), if any.
func (q *QueueStore) PeekNext(chatID ChatID) (QueuedTrack, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	chat, ok := q.store.GetChat(chatID)
	if !ok || len(chat.Queue) < 2 {
		return QueuedTrack{}, false
	}
	return chat.Queue[1], true
}

// PopHead removes and returns the current head. Used when a track finishes
// or is skipped; popping the head is the only way playback advances.
func (q *QueueStore) PopHead(chatID ChatID) (QueuedTrack, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	chat, ok := q.store.GetChat(chatID)
	if !ok || len(chat.Queue) == 0 {
		return QueuedTrack{}, false
	}
	head := chat.Queue[0]
	chat.Queue = chat.Queue[1:]
	chat.LastActivity = time.Now().UTC()
	return head, true
}

// RemoveAt removes the track at the given queue position.
// It returns false if the index is out of range.
func (q *QueueStore) RemoveAt(chatID ChatID, index int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	chat, ok := q.store.GetChat(chatID)
	if !ok || index < 0 || index >= len(chat.Queue) {
		return false
	}
	chat.Queue = append(chat.Queue[:index], chat.Queue[index+1:]...)
	chat.LastActivity = time.Now().UTC()
	return true
}

// SetActive sets the chat's active flag, creating the entry if absent.
func (q *QueueStore) SetActive(chatID ChatID, active bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	chat := q.getOrCreateChatLocked(chatID)
	chat.Active = active
	chat.LastActivity = time.Now().UTC()
}

// IsActive reports whether the chat currently has an active playback session.
func (q *QueueStore) IsActive(chatID ChatID) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	chat, ok := q.store.GetChat(chatID)
	return ok && chat.Active
}

// Clear drops the chat's queue and marks it inactive.
func (q *QueueStore) Clear(chatID ChatID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	chat, ok := q.store.GetChat(chatID)
	if !ok {
		return
	}
	chat.Queue = nil
	chat.Active = false
	chat.LastActivity = time.Now().UTC()
}

// TouchActivity updates the chat's last-activity timestamp to now.
func (q *QueueStore) TouchActivity(chatID ChatID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	chat, ok := q.store.GetChat(chatID)
	if !ok {
		return
	}
	chat.LastActivity = time.Now().UTC()
}

// ListActiveChatIDs returns a snapshot of all chats with an active session.
// The returned slice is a copy; later store mutations are not observed
// through it.
func (q *QueueStore) ListActiveChatIDs() []ChatID {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := make([]ChatID, 0)
	for _, id := range q.store.ListChatIDs() {
		if chat, ok := q.store.GetChat(id); ok && chat.Active {
			ids = append(ids, id)
		}
	}
	return ids
}

// QueueLength returns the number of queued tracks for the chat.
func (q *QueueStore) QueueLength(chatID ChatID) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	chat, ok := q.store.GetChat(chatID)
	if !ok {
		return 0
	}
	return len(chat.Queue)
}

// Snapshot returns a copy of the chat's queue in play order.
// The ok return is false if the chat has no entry.
func (q *QueueStore) Snapshot(chatID ChatID) ([]QueuedTrack, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	chat, ok := q.store.GetChat(chatID)
	if !ok {
		return nil, false
	}
	tracks := make([]QueuedTrack, len(chat.Queue))
	copy(tracks, chat.Queue)
	return tracks, true
}

// LoopCount returns the repeat counter of the head track, or 0 if the
// queue is empty.
func (q *QueueStore) LoopCount(chatID ChatID) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	chat, ok := q.store.GetChat(chatID)
	if !ok || len(chat.Queue) == 0 {
		return 0
	}
	return chat.Queue[0].Loop
}

// SetLoopCount sets the repeat counter on the head track.
// It returns false if the queue is empty.
func (q *QueueStore) SetLoopCount(chatID ChatID, loop int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	chat, ok := q.store.GetChat(chatID)
	if !ok || len(chat.Queue) == 0 {
		return false
	}
	chat.Queue[0].Loop = loop
	return true
}

// CleanupInactive removes entries that are inactive, have an empty queue,
// and have been idle longer than maxIdle. It returns the number of entries
// removed. This is maintenance only; correctness does not depend on it.
func (q *QueueStore) CleanupInactive(maxIdle time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxIdle)
	removed := 0
	for _, id := range q.store.ListChatIDs() {
		chat, ok := q.store.GetChat(id)
		if !ok {
			continue
		}
		if !chat.Active && len(chat.Queue) == 0 && chat.LastActivity.Before(cutoff) {
			q.store.DeleteChat(id)
			removed++
		}
	}
	return removed
}

// StoreStats is a point-in-time summary of the queue store.
type StoreStats struct {
	TotalChats  int `json:"total_chats"`
	ActiveChats int `json:"active_chats"`
}

// Stats returns a snapshot summary for the control plane and metrics.
func (q *QueueStore) Stats() StoreStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var st StoreStats
	for _, id := range q.store.ListChatIDs() {
		st.TotalChats++
		if chat, ok := q.store.GetChat(id); ok && chat.Active {
			st.ActiveChats++
		}
	}
	return st
}

// getOrCreateChatLocked returns an existing chat entry or creates a new one.
// Caller must hold q.mu in write mode.
func (q *QueueStore) getOrCreateChatLocked(chatID ChatID) *ChatPlaybackState {
	if chat, ok := q.store.GetChat(chatID); ok {
		return chat
	}

	chat := &ChatPlaybackState{
		ID:           chatID,
		Active:       true,
		LastActivity: time.Now().UTC(),
	}
	q.store.SetChat(chat)
	return chat
}
