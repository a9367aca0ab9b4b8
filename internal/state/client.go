package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/modelgate/modelgate/internal/logging"
)

// Client is the front-end process's view of the shared state. It talks to
// the service's sync endpoint first and falls back to the local store when
// the service is unreachable, so the application stays usable offline.
type Client struct {
	baseURL string
	httpc   *http.Client
	store   *Store
}

// NewClient creates a client for the sync endpoint at baseURL
// (e.g. "http://127.0.0.1:3380") backed by the given local store.
func NewClient(baseURL string, store *Store) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 5 * time.Second},
		store:   store,
	}
}

// Get reads the current record, preferring the service endpoint.
func (c *Client) Get(ctx context.Context) (*Record, Source, error) {
	rec, source, err := c.getRemote(ctx)
	if err == nil {
		return rec, source, nil
	}

	L_debug("state: endpoint unreachable, falling back to file", "error", err)
	return c.store.Load()
}

// Set writes a new record, preferring the service endpoint so the service
// process sees the change immediately.
func (c *Client) Set(ctx context.Context, provider, modelID string) error {
	if err := c.setRemote(ctx, provider, modelID); err == nil {
		return nil
	} else if isRejection(err) {
		// The endpoint understood the request and said no; don't retry
		// against the file with the same bad input.
		return err
	} else {
		L_debug("state: endpoint unreachable, falling back to file", "error", err)
	}

	return c.store.Save(provider, modelID)
}

// rejectionError marks a response the endpoint deliberately refused (4xx).
type rejectionError struct{ msg string }

func (e *rejectionError) Error() string { return e.msg }

func isRejection(err error) bool {
	_, ok := err.(*rejectionError)
	return ok
}

func (c *Client) getRemote(ctx context.Context) (*Record, Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/internal/state", nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("state endpoint returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Provider    string `json:"provider"`
		ModelID     string `json:"model_id"`
		LastUpdated string `json:"last_updated"`
		Source      string `json:"source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, "", fmt.Errorf("failed to decode state response: %w", err)
	}

	rec := &Record{
		Provider:    payload.Provider,
		ModelID:     payload.ModelID,
		LastUpdated: payload.LastUpdated,
		Version:     Version,
	}
	return rec, Source(payload.Source), nil
}

func (c *Client) setRemote(ctx context.Context, provider, modelID string) error {
	body, err := json.Marshal(map[string]string{
		"provider": provider,
		"model_id": modelID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/state", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return &rejectionError{msg: fmt.Sprintf("state endpoint rejected request (%d): %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("state endpoint returned %d: %s", resp.StatusCode, respBody)
	}

	return nil
}

// Watch invokes onChange with the new record whenever the state file changes
// on disk, until the context is cancelled. Because saves land via rename,
// the watch is on the parent directory rather than the file itself.
func (c *Client) Watch(ctx context.Context, onChange func(*Record)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(c.store.Path())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Base(c.store.Path())
	L_debug("state: watching for changes", "dir", dir, "file", target)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			rec, _, err := c.store.Load()
			if err != nil {
				L_warn("state: failed to reload after change", "error", err)
				continue
			}
			onChange(rec)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			L_warn("state: watcher error", "error", werr)
		}
	}
}
