package playback

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func track(name string) QueuedTrack {
	return QueuedTrack{Name: name, Artist: "artist", DurationSec: 180, Platform: PlatformYouTube, RequestedBy: "user"}
}

func TestQueueStore_Enqueue_fifo(t *testing.T) {
	q := NewQueueStore()

	if got := q.Enqueue(ChatID(-100), track("t1")); got != 1 {
		t.Errorf("first Enqueue length = %d, want 1", got)
	}
	if got := q.Enqueue(ChatID(-100), track("t2")); got != 2 {
		t.Errorf("second Enqueue length = %d, want 2", got)
	}

	h1, ok := q.PopHead(ChatID(-100))
	if !ok || h1.Name != "t1" {
		t.Errorf("first PopHead = %v ok=%v, want t1", h1, ok)
	}
	h2, ok := q.PopHead(ChatID(-100))
	if !ok || h2.Name != "t2" {
		t.Errorf("second PopHead = %v ok=%v, want t2", h2, ok)
	}
	if _, ok := q.PopHead(ChatID(-100)); ok {
		t.Error("PopHead on empty queue should report ok=false")
	}
}

func TestQueueStore_missing_chat_semantics(t *testing.T) {
	q := NewQueueStore()
	id := ChatID(-42)

	if _, ok := q.PeekHead(id); ok {
		t.Error("PeekHead on missing chat should be ok=false")
	}
	if _, ok := q.PeekNext(id); ok {
		t.Error("PeekNext on missing chat should be ok=false")
	}
	if _, ok := q.PopHead(id); ok {
		t.Error("PopHead on missing chat should be ok=false")
	}
	if q.RemoveAt(id, 0) {
		t.Error("RemoveAt on missing chat should be false")
	}
	if q.IsActive(id) {
		t.Error("IsActive on never-touched chat should be false")
	}
	if q.QueueLength(id) != 0 {
		t.Error("QueueLength on missing chat should be 0")
	}
	// These must be silent no-ops.
	q.Clear(id)
	q.TouchActivity(id)
}

func TestQueueStore_peek(t *testing.T) {
	q := NewQueueStore()
	id := ChatID(-1)
	q.Enqueue(id, track("playing"))
	q.Enqueue(id, track("upcoming"))

	head, ok := q.PeekHead(id)
	if !ok || head.Name != "playing" {
		t.Errorf("PeekHead = %v ok=%v", head, ok)
	}
	next, ok := q.PeekNext(id)
	if !ok || next.Name != "upcoming" {
		t.Errorf("PeekNext = %v ok=%v", next, ok)
	}
	if q.QueueLength(id) != 2 {
		t.Errorf("peek must not consume, length = %d", q.QueueLength(id))
	}
}

func TestQueueStore_RemoveAt(t *testing.T) {
	q := NewQueueStore()
	id := ChatID(-1)
	for _, n := range []string{"a", "b", "c"} {
		q.Enqueue(id, track(n))
	}

	if !q.RemoveAt(id, 1) {
		t.Fatal("RemoveAt(1) should succeed")
	}
	tracks, _ := q.Snapshot(id)
	if len(tracks) != 2 || tracks[0].Name != "a" || tracks[1].Name != "c" {
		t.Errorf("after RemoveAt(1): %v", tracks)
	}
	if q.RemoveAt(id, 5) {
		t.Error("RemoveAt out of range should be false")
	}
	if q.RemoveAt(id, -1) {
		t.Error("RemoveAt negative index should be false")
	}
}

func TestQueueStore_active_lifecycle(t *testing.T) {
	q := NewQueueStore()
	id := ChatID(-1)

	q.Enqueue(id, track("t"))
	if !q.IsActive(id) {
		t.Error("chat should be active after first enqueue")
	}

	q.SetActive(id, false)
	if q.IsActive(id) {
		t.Error("chat should be inactive after SetActive(false)")
	}

	q.SetActive(id, true)
	q.Clear(id)
	if q.IsActive(id) {
		t.Error("Clear should mark inactive")
	}
	if q.QueueLength(id) != 0 {
		t.Error("Clear should drop the queue")
	}
}

func TestQueueStore_ListActiveChatIDs_snapshot(t *testing.T) {
	q := NewQueueStore()
	q.Enqueue(ChatID(-1), track("a"))
	q.Enqueue(ChatID(-2), track("b"))
	q.SetActive(ChatID(-2), false)
	q.Enqueue(ChatID(-3), track("c"))

	ids := q.ListActiveChatIDs()
	if len(ids) != 2 {
		t.Fatalf("active ids = %v, want 2 entries", ids)
	}

	// Mutations after the call must not be observed through the snapshot.
	q.SetActive(ChatID(-1), false)
	if len(ids) != 2 {
		t.Errorf("snapshot changed after mutation: %v", ids)
	}
}

func TestQueueStore_Snapshot_is_copy(t *testing.T) {
	q := NewQueueStore()
	id := ChatID(-1)
	q.Enqueue(id, track("a"))

	snap, ok := q.Snapshot(id)
	if !ok || len(snap) != 1 {
		t.Fatalf("Snapshot = %v ok=%v", snap, ok)
	}
	snap[0].Name = "mutated"

	head, _ := q.PeekHead(id)
	if head.Name != "a" {
		t.Errorf("store observed snapshot mutation: %q", head.Name)
	}
}

func TestQueueStore_loop_count(t *testing.T) {
	q := NewQueueStore()
	id := ChatID(-1)

	if q.SetLoopCount(id, 3) {
		t.Error("SetLoopCount on empty queue should be false")
	}
	q.Enqueue(id, track("a"))
	if !q.SetLoopCount(id, 3) {
		t.Fatal("SetLoopCount should succeed")
	}
	if got := q.LoopCount(id); got != 3 {
		t.Errorf("LoopCount = %d, want 3", got)
	}
}

func TestQueueStore_concurrent_enqueue(t *testing.T) {
	q := NewQueueStore()
	id := ChatID(-1)
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(id, track(fmt.Sprintf("t%d", i)))
		}(i)
	}
	wg.Wait()

	tracks, ok := q.Snapshot(id)
	if !ok || len(tracks) != n {
		t.Fatalf("queue length = %d, want %d", len(tracks), n)
	}
	seen := make(map[string]bool, n)
	for _, tr := range tracks {
		if seen[tr.Name] {
			t.Errorf("duplicate track %q", tr.Name)
		}
		seen[tr.Name] = true
	}
	if len(seen) != n {
		t.Errorf("distinct tracks = %d, want %d", len(seen), n)
	}
}

func TestQueueStore_CleanupInactive(t *testing.T) {
	q := NewQueueStore()

	// Idle, inactive, empty: eligible.
	q.SetActive(ChatID(-1), false)
	// Inactive but still queued: kept.
	q.Enqueue(ChatID(-2), track("t"))
	q.SetActive(ChatID(-2), false)
	// Active and empty: kept.
	q.SetActive(ChatID(-3), true)

	time.Sleep(20 * time.Millisecond)

	if removed := q.CleanupInactive(10 * time.Millisecond); removed != 1 {
		t.Errorf("CleanupInactive removed %d, want 1", removed)
	}
	st := q.Stats()
	if st.TotalChats != 2 {
		t.Errorf("total chats after cleanup = %d, want 2", st.TotalChats)
	}

	// Recent entries stay even when eligible by state.
	q.SetActive(ChatID(-4), false)
	if removed := q.CleanupInactive(time.Hour); removed != 0 {
		t.Errorf("CleanupInactive removed %d recent entries, want 0", removed)
	}
}

func TestQueueStore_Stats(t *testing.T) {
	q := NewQueueStore()
	q.Enqueue(ChatID(-1), track("a"))
	q.Enqueue(ChatID(-2), track("b"))
	q.SetActive(ChatID(-2), false)

	st := q.Stats()
	if st.TotalChats != 2 || st.ActiveChats != 1 {
		t.Errorf("Stats = %+v, want total 2 active 1", st)
	}
}

func TestNewQueueStoreWithStore(t *testing.T) {
	// Verify the store abstraction is honored when injected explicitly.
	store := NewInMemoryStore()
	q := NewQueueStoreWithStore(store)

	q.Enqueue(ChatID(-1), track("a"))
	if _, ok := store.GetChat(ChatID(-1)); !ok {
		t.Error("injected store should contain the chat after Enqueue")
	}
}
