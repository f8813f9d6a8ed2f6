package remote

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hybridvamp/V2MusicBot/internal/playback"
)

// TransportClient implements playback.Transport, playback.Fleet, and
// playback.Flags against the bot gateway's HTTP API.
type TransportClient struct {
	baseURL string
	http    *http.Client
}

// NewTransportClient returns a client for the gateway at baseURL
// (no trailing slash). httpClient may be nil for http.DefaultClient.
func NewTransportClient(baseURL string, httpClient *http.Client) *TransportClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TransportClient{baseURL: baseURL, http: httpClient}
}

// NotifyChat implements playback.Transport.
func (t *TransportClient) NotifyChat(ctx context.Context, chatID playback.ChatID, text string) error {
	url := fmt.Sprintf("%s/chats/%d/messages", t.baseURL, chatID)
	return postJSON(ctx, t.http, url, map[string]string{"text": text})
}

// ListDialogs implements playback.Transport.
func (t *TransportClient) ListDialogs(ctx context.Context, sessionID playback.SessionID) ([]playback.ChatID, error) {
	var out struct {
		Dialogs []playback.ChatID `json:"dialogs"`
	}
	url := fmt.Sprintf("%s/sessions/%s/dialogs", t.baseURL, sessionID)
	if err := getJSON(ctx, t.http, url, &out); err != nil {
		return nil, err
	}
	return out.Dialogs, nil
}

// LeaveChat implements playback.Transport. A 429 with Retry-After maps to
// *playback.RateLimitedError; other 4xx map to playback.ErrPermanent.
func (t *TransportClient) LeaveChat(ctx context.Context, sessionID playback.SessionID, chatID playback.ChatID) error {
	url := fmt.Sprintf("%s/sessions/%s/dialogs/%d/leave", t.baseURL, sessionID, chatID)
	return postJSON(ctx, t.http, url, nil)
}

// ListAssistantSessions implements playback.Fleet.
func (t *TransportClient) ListAssistantSessions(ctx context.Context) ([]playback.SessionID, error) {
	var out struct {
		Sessions []playback.SessionID `json:"sessions"`
	}
	if err := getJSON(ctx, t.http, t.baseURL+"/sessions", &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// AutoEndEnabled implements playback.Flags. Lookup failures default to
// enabled, matching the bot database's behaviour.
func (t *TransportClient) AutoEndEnabled(ctx context.Context, botID int64) bool {
	var out struct {
		Enabled bool `json:"enabled"`
	}
	url := fmt.Sprintf("%s/flags/auto-end?bot_id=%d", t.baseURL, botID)
	if err := getJSON(ctx, t.http, url, &out); err != nil {
		return true
	}
	return out.Enabled
}

// AutoLeaveEnabled implements playback.Flags. Lookup failures default to
// disabled so a broken gateway never triggers a mass leave.
func (t *TransportClient) AutoLeaveEnabled(ctx context.Context) bool {
	var out struct {
		Enabled bool `json:"enabled"`
	}
	if err := getJSON(ctx, t.http, t.baseURL+"/flags/auto-leave", &out); err != nil {
		return false
	}
	return out.Enabled
}

// checkStatus maps HTTP statuses onto the playback error taxonomy:
// 2xx ok, 429 rate-limited with the remote wait, other 4xx permanent,
// 5xx transient.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &playback.RateLimitedError{Wait: retryAfter(resp)}
	case resp.StatusCode < 500:
		return fmt.Errorf("%s: %w", resp.Status, playback.ErrPermanent)
	default:
		return fmt.Errorf("remote error: %s", resp.Status)
	}
}

// retryAfter reads the Retry-After header in seconds, defaulting to 1s.
func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}
