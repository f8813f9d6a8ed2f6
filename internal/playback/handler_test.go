package playback

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) (*chi.Mux, *SessionJobSupervisor, *QueueStore) {
	t.Helper()
	sup, store := newTestSupervisor(t, newFakeCallEngine(), newFakeTransport())
	h := NewHandler(store, sup, sup.fleet, testLogger(t), nil)

	r := chi.NewRouter()
	h.Routes(r)
	return r, sup, store
}

func doRequest(t *testing.T, r http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	r, sup, _ := newTestRouter(t)

	t.Run("degraded when stopped", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodGet, "/healthz")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rec.Code)
		}
		var body struct {
			Status    string   `json:"status"`
			DeadLoops []string `json:"dead_loops"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON body: %v", err)
		}
		if body.Status != "degraded" {
			t.Errorf("expected degraded, got %q", body.Status)
		}
		if len(body.DeadLoops) != 3 {
			t.Errorf("expected 3 dead loops, got %v", body.DeadLoops)
		}
	})

	t.Run("ok when running", func(t *testing.T) {
		sup.Start()
		defer sup.Stop(time.Second)
		time.Sleep(5 * time.Millisecond)

		rec := doRequest(t, r, http.MethodGet, "/healthz")
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestGetStatus(t *testing.T) {
	r, _, store := newTestRouter(t)
	store.Enqueue(ChatID(-1), track("a"))

	rec := doRequest(t, r, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status SupervisorStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if status.Running {
		t.Error("stopped supervisor should not report running")
	}
	if status.Store.TotalChats != 1 || status.Store.ActiveChats != 1 {
		t.Errorf("unexpected store stats: %+v", status.Store)
	}
}

func TestListActiveChats(t *testing.T) {
	r, _, store := newTestRouter(t)
	store.Enqueue(ChatID(-100), track("a"))
	store.Enqueue(ChatID(-200), track("b"))
	store.SetActive(ChatID(-200), false)

	rec := doRequest(t, r, http.MethodGet, "/chats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		ActiveChats []ChatID `json:"active_chats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if len(body.ActiveChats) != 1 || body.ActiveChats[0] != ChatID(-100) {
		t.Errorf("expected only chat -100, got %v", body.ActiveChats)
	}
}

func TestGetQueue(t *testing.T) {
	r, _, store := newTestRouter(t)
	store.Enqueue(ChatID(-5), track("first"))
	store.Enqueue(ChatID(-5), track("second"))

	t.Run("known chat", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodGet, "/chats/-5/queue")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var body struct {
			ChatID ChatID        `json:"chat_id"`
			Active bool          `json:"active"`
			Queue  []QueuedTrack `json:"queue"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON body: %v", err)
		}
		if body.ChatID != ChatID(-5) || !body.Active {
			t.Errorf("unexpected body: %+v", body)
		}
		if len(body.Queue) != 2 || body.Queue[0].Name != "first" {
			t.Errorf("unexpected queue: %+v", body.Queue)
		}
	})

	t.Run("unknown chat", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodGet, "/chats/-999/queue")
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("malformed chat id", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodGet, "/chats/notanumber/queue")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestClearQueue(t *testing.T) {
	r, _, store := newTestRouter(t)
	store.Enqueue(ChatID(-5), track("a"))

	rec := doRequest(t, r, http.MethodDelete, "/chats/-5/queue")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if n := store.QueueLength(ChatID(-5)); n != 0 {
		t.Errorf("queue should be empty, has %d tracks", n)
	}

	t.Run("unknown chat is a no-op", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodDelete, "/chats/-999/queue")
		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
	})
}

func TestTriggerFleetLeave(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := doRequest(t, r, http.MethodPost, "/jobs/fleet-leave")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["status"] != "accepted" {
		t.Errorf("expected accepted, got %q", body["status"])
	}
	if body["pass_id"] == "" {
		t.Error("response should carry the pass id")
	}
}
