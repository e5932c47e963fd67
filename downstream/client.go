// Package downstream delivers job payloads to their target URLs.
package downstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Pingpayio/ping-subscription-service/config"
	"github.com/Pingpayio/ping-subscription-service/rest"
)

// How much of an error response body to keep in the recorded error message.
const maxErrorBodySize = 512

// A Client delivers a job's payload to its target with a bounded timeout.
// The target is expected to return a 2xx status; anything else, including a
// timeout, counts as a failed execution.
type Client struct {
	Client *http.Client
}

// NewClient creates a Client whose requests time out after the given
// duration.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		Client: &http.Client{Timeout: timeout},
	}
}

// Post sends payload as the JSON body of a POST request to target. A nil
// return means the target accepted the execution with a 2xx status. Non-2xx
// responses return a *rest.Error carrying the status code and a bounded
// slice of the response body.
func (c *Client) Post(target string, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = []byte("null")
	}
	req, err := http.NewRequest("POST", target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", fmt.Sprintf("ping-subscription-service/%s", config.Version))

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return &rest.Error{
		ID:         "execution_failed",
		Title:      fmt.Sprintf("Target returned status %d", resp.StatusCode),
		Detail:     string(body),
		Instance:   target,
		StatusCode: resp.StatusCode,
	}
}
