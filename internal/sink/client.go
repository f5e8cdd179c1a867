package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/dgallion1/docprep/internal/doctree"
)

// MaxAttempts bounds the requests made for one page.
const MaxAttempts = 3

// StatusError is a non-2xx answer from the indexer.
type StatusError struct {
	Code int
	Body string // first KiB of the response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("indexer returned %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// Temporary reports whether the request may succeed when repeated.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Retryable reports whether err carries a temporary indexer status.
func Retryable(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Temporary()
}

// retryDelay doubles from 500ms up to 20s and adds up to 50% jitter.
func retryDelay(attempt int) time.Duration {
	d := 500 * time.Millisecond << min(attempt, 6)
	d = min(d, 20*time.Second)
	return d + rand.N(d/2+1)
}

// Client hands chunk lists to the external indexing service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger

	// delay is swapped out in tests.
	delay func(attempt int) time.Duration
}

func NewClient(baseURL, apiKey string, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:   log,
		delay: retryDelay,
	}
}

// ChunksRequest is the body for PUT /chunks.
type ChunksRequest struct {
	SourceURL string          `json:"source_url"`
	Chunks    []doctree.Chunk `json:"chunks"`
}

// PutChunks replaces the indexed chunks of one page. 429 and 5xx answers
// are retried, up to MaxAttempts requests in total.
func (c *Client) PutChunks(ctx context.Context, sourceURL string, chunks []doctree.Chunk) error {
	if chunks == nil {
		chunks = []doctree.Chunk{}
	}
	body, err := json.Marshal(ChunksRequest{SourceURL: sourceURL, Chunks: chunks})
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err = c.put(ctx, body)
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt == MaxAttempts {
			return fmt.Errorf("put chunks %s: %w", sourceURL, err)
		}
		c.log.Warn("indexer busy, retrying", "url", sourceURL, "attempt", attempt, "error", err)
		select {
		case <-time.After(c.delay(attempt - 1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) put(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/chunks", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{Code: resp.StatusCode, Body: string(msg)}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
