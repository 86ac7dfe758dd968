package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Schwaller/tradery/internal/cache"
)

// apiClient talks to the workbench observability server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Pages fetches the current page snapshot.
func (c *apiClient) Pages() ([]cache.PageInfo, error) {
	var pages []cache.PageInfo
	if err := c.getJSON("/api/v1/pages", &pages); err != nil {
		return nil, err
	}

	return pages, nil
}

// PageEvents fetches the event history for one page key.
func (c *apiClient) PageEvents(key string) ([]cache.Event, error) {
	var events []cache.Event
	if err := c.getJSON("/api/v1/pages/"+url.PathEscape(key)+"/events", &events); err != nil {
		return nil, err
	}

	return events, nil
}

func (c *apiClient) getJSON(path string, v any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s from %s", resp.Status, path)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
