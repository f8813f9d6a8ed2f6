package playback

// Store is the persistence abstraction for per-chat playback state.
// Implementations can be in-memory or remote. The QueueStore uses Store for
// all reads and writes and layers synchronization on top; callers of
// QueueStore do not need to know which Store is used.
type Store interface {
	GetChat(id ChatID) (*ChatPlaybackState, bool)
	SetChat(s *ChatPlaybackState)
	DeleteChat(id ChatID)
	ListChatIDs() []ChatID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	chats map[ChatID]*ChatPlaybackState
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		chats: make(map[ChatID]*ChatPlaybackState),
	}
}

// GetChat implements Store.GetChat.
func (s *InMemoryStore) GetChat(id ChatID) (*ChatPlaybackState, bool) {
	st, ok := s.chats[id]
	return st, ok
}

// SetChat implements Store.SetChat.
func (s *InMemoryStore) SetChat(st *ChatPlaybackState) {
	s.chats[st.ID] = st
}

// DeleteChat implements Store.DeleteChat.
func (s *InMemoryStore) DeleteChat(id ChatID) {
	delete(s.chats, id)
}

// ListChatIDs implements Store.ListChatIDs.
func (s *InMemoryStore) ListChatIDs() []ChatID {
	ids := make([]ChatID, 0, len(s.chats))
	for id := range s.chats {
		ids = append(ids, id)
	}
	return ids
}
