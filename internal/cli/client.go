// =============================================================================
// CLI HTTP CLIENT - TALKS TO THE ADMIN API
// =============================================================================
//
// A thin JSON-over-HTTP client for the filestor-cli commands. Errors from
// the server (non-2xx with an {"error": ...} body) surface as Go errors with
// the server's message.
//
// HTTP ENDPOINTS USED:
//   GET  /stats, /filestor/status/text
//   POST /documents
//   POST /filestor/pause, /filestor/resume
//   PUT  /filestor/disks/{disk}/state
//
// =============================================================================

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the node's admin API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for the given server URL.
func NewClient(serverURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetJSON fetches path and decodes the JSON response into out.
func (c *Client) GetJSON(path string, out any) error {
	return c.doJSON(http.MethodGet, path, nil, out)
}

// PostJSON sends body as JSON and decodes the response into out (both may
// be nil).
func (c *Client) PostJSON(path string, body, out any) error {
	return c.doJSON(http.MethodPost, path, body, out)
}

// PutJSON sends body as JSON with PUT.
func (c *Client) PutJSON(path string, body, out any) error {
	return c.doJSON(http.MethodPut, path, body, out)
}

// GetText fetches path and returns the raw body, for the text status page.
func (c *Client) GetText(path string) (string, error) {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("server returned %s", resp.Status)
	}
	return string(data), nil
}

func (c *Client) doJSON(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var serverErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &serverErr) == nil && serverErr.Error != "" {
			return fmt.Errorf("%s (%s)", serverErr.Error, resp.Status)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
