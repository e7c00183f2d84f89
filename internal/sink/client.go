package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fairdatahub/arc-harvester/internal/domain"
)

// DefaultTimeout is the default timeout for sink requests.
const DefaultTimeout = 60 * time.Second

// maxErrorBody bounds how much of an error response body is read back
// into error messages.
const maxErrorBody = 4 << 10

// Client is an HTTP implementation of Sink. It PUTs documents to
// {base}/records/{record_id} and DELETEs them on removal; the sink
// answers with the resulting commit reference.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithToken sets the bearer token for sink requests.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout sets the timeout for sink requests.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new commit sink client.
func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// commitResponse is the sink's answer to an accepted push or removal.
type commitResponse struct {
	CommitRef string `json:"commit_ref"`
}

// Push uploads a document's content and returns the commit reference.
func (c *Client) Push(ctx context.Context, recordID string, content domain.JSONBMap) (string, error) {
	body, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to serialize document %s: %w", recordID, err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPut, c.recordURL(recordID), bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// Remove records a deletion for the given record and returns the commit
// reference.
func (c *Client) Remove(ctx context.Context, recordID string) (string, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodDelete, c.recordURL(recordID), http.NoBody,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create remove request: %w", err)
	}

	return c.do(req)
}

// do executes a request and decodes the commit reference. Network errors
// and retryable status codes are wrapped in ErrTransient.
func (c *Client) do(req *http.Request) (string, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError ||
		resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("%w: sink returned %d: %s", ErrTransient, resp.StatusCode, msg)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("sink rejected request with %d: %s", resp.StatusCode, msg)
	}

	var commit commitResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&commit); decodeErr != nil {
		return "", fmt.Errorf("failed to decode sink response: %w", decodeErr)
	}

	return commit.CommitRef, nil
}

func (c *Client) recordURL(recordID string) string {
	return c.baseURL + "/records/" + url.PathEscape(recordID)
}
