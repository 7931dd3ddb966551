// ABOUTME: HTTP client for the play history endpoint
// ABOUTME: Fetches the most recent played tracks, newest first
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is where the analysis backend serves history
const DefaultBaseURL = "http://localhost:8766"

// Entry is one played track
type Entry struct {
	Artist    string    `json:"artist"`
	Title     string    `json:"title"`
	Album     string    `json:"album,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client queries the history endpoint
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a history client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// URL returns the history endpoint URL
func (c *Client) URL() string {
	return c.baseURL + "/history"
}

// Recent returns the most recently played tracks, newest first
func (c *Client) Recent(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request failed: HTTP %d", resp.StatusCode)
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("invalid history response: %w", err)
	}
	return entries, nil
}
