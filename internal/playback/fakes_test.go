package playback

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
)

// testLogger returns a quiet slog.Logger for tests.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeCallEngine scripts per-chat listener and played-time responses.
// Response slices are consumed one element per call; the last element
// repeats once exhausted.
type fakeCallEngine struct {
	mu        sync.Mutex
	listeners map[ChatID][]int
	played    map[ChatID][]int

	listenerErr error
	playedErr   error
	endErr      error

	endCalls   map[ChatID]int
	blockUntil <-chan struct{} // when set, calls block until closed or ctx done
}

func newFakeCallEngine() *fakeCallEngine {
	return &fakeCallEngine{
		listeners: make(map[ChatID][]int),
		played:    make(map[ChatID][]int),
		endCalls:  make(map[ChatID]int),
	}
}

func (f *fakeCallEngine) maybeBlock(ctx context.Context) error {
	if f.blockUntil == nil {
		return nil
	}
	select {
	case <-f.blockUntil:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func takeScripted(m map[ChatID][]int, chatID ChatID) int {
	vals := m[chatID]
	if len(vals) == 0 {
		return 0
	}
	v := vals[0]
	if len(vals) > 1 {
		m[chatID] = vals[1:]
	}
	return v
}

func (f *fakeCallEngine) ListenerCount(ctx context.Context, chatID ChatID) (int, error) {
	if err := f.maybeBlock(ctx); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listenerErr != nil {
		return 0, f.listenerErr
	}
	return takeScripted(f.listeners, chatID), nil
}

func (f *fakeCallEngine) PlayedSeconds(ctx context.Context, chatID ChatID) (int, error) {
	if err := f.maybeBlock(ctx); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playedErr != nil {
		return 0, f.playedErr
	}
	return takeScripted(f.played, chatID), nil
}

func (f *fakeCallEngine) EndStream(ctx context.Context, chatID ChatID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endErr != nil {
		return f.endErr
	}
	f.endCalls[chatID]++
	return nil
}

func (f *fakeCallEngine) endCount(chatID ChatID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endCalls[chatID]
}

// fakeTransport records notifications and scripts leave outcomes.
type fakeTransport struct {
	mu       sync.Mutex
	notices  map[ChatID]int
	dialogs  map[SessionID][]ChatID
	sessions []SessionID

	// leaveErrs scripts consecutive LeaveChat outcomes per chat; nil means
	// success. The last element repeats once exhausted.
	leaveErrs  map[ChatID][]error
	leaveCalls map[ChatID]int

	dialogErrs map[SessionID]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		notices:    make(map[ChatID]int),
		dialogs:    make(map[SessionID][]ChatID),
		leaveErrs:  make(map[ChatID][]error),
		leaveCalls: make(map[ChatID]int),
		dialogErrs: make(map[SessionID]error),
	}
}

func (f *fakeTransport) NotifyChat(ctx context.Context, chatID ChatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices[chatID]++
	return nil
}

func (f *fakeTransport) ListDialogs(ctx context.Context, sessionID SessionID) ([]ChatID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.dialogErrs[sessionID]; err != nil {
		return nil, err
	}
	return f.dialogs[sessionID], nil
}

func (f *fakeTransport) LeaveChat(ctx context.Context, sessionID SessionID, chatID ChatID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls[chatID]++
	errs := f.leaveErrs[chatID]
	if len(errs) == 0 {
		return nil
	}
	err := errs[0]
	if len(errs) > 1 {
		f.leaveErrs[chatID] = errs[1:]
	}
	return err
}

func (f *fakeTransport) ListAssistantSessions(ctx context.Context) ([]SessionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions, nil
}

func (f *fakeTransport) leaveCount(chatID ChatID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaveCalls[chatID]
}

func (f *fakeTransport) noticeCount(chatID ChatID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notices[chatID]
}

// fakeFlags toggles the operator switches.
type fakeFlags struct {
	autoEnd   bool
	autoLeave bool
}

func (f *fakeFlags) AutoEndEnabled(ctx context.Context, botID int64) bool { return f.autoEnd }
func (f *fakeFlags) AutoLeaveEnabled(ctx context.Context) bool            { return f.autoLeave }

var errRemote = errors.New("remote unavailable")
