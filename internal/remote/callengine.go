// Package remote provides HTTP JSON clients for the out-of-process
// collaborators the playback core depends on: the voice call engine and the
// messaging transport. The core itself only sees the interfaces in
// internal/playback; these adapters live at the process edge.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hybridvamp/V2MusicBot/internal/playback"
)

// CallEngineClient implements playback.CallEngine against the engine's
// HTTP API.
type CallEngineClient struct {
	baseURL string
	http    *http.Client
}

// NewCallEngineClient returns a client for the engine at baseURL
// (no trailing slash). httpClient may be nil for http.DefaultClient;
// call deadlines come from the caller's context either way.
func NewCallEngineClient(baseURL string, httpClient *http.Client) *CallEngineClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CallEngineClient{baseURL: baseURL, http: httpClient}
}

// ListenerCount implements playback.CallEngine.
func (c *CallEngineClient) ListenerCount(ctx context.Context, chatID playback.ChatID) (int, error) {
	var out struct {
		Listeners int `json:"listeners"`
	}
	url := fmt.Sprintf("%s/calls/%d/listeners", c.baseURL, chatID)
	if err := getJSON(ctx, c.http, url, &out); err != nil {
		return 0, err
	}
	return out.Listeners, nil
}

// PlayedSeconds implements playback.CallEngine.
func (c *CallEngineClient) PlayedSeconds(ctx context.Context, chatID playback.ChatID) (int, error) {
	var out struct {
		PlayedSec int `json:"played_sec"`
	}
	url := fmt.Sprintf("%s/calls/%d/played", c.baseURL, chatID)
	if err := getJSON(ctx, c.http, url, &out); err != nil {
		return 0, err
	}
	return out.PlayedSec, nil
}

// EndStream implements playback.CallEngine.
func (c *CallEngineClient) EndStream(ctx context.Context, chatID playback.ChatID) error {
	url := fmt.Sprintf("%s/calls/%d/end", c.baseURL, chatID)
	return postJSON(ctx, c.http, url, nil)
}

// getJSON issues a GET and decodes a 200 JSON body into out.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// postJSON issues a POST with an optional JSON body and discards the response body.
func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return checkStatus(resp)
}
