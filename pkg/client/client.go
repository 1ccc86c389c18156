// Package client implements the worker side of the dispatcher protocol:
// fetching work batches, submitting results, and polling status.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LumiOpen/translation-dispatcher/pkg/api"
)

// defaultTimeout bounds each HTTP round trip.
const defaultTimeout = 60 * time.Second

// ErrRejected indicates the server rejected the request as malformed
// (HTTP 400).
var ErrRejected = errors.New("request rejected")

// Client talks to one dispatcher server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, e.g. for tests or
// custom transports.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for the given server URL.
func New(serverURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetWork requests up to batchSize items.
func (c *Client) GetWork(ctx context.Context, batchSize int) (*api.WorkResponse, error) {
	url := c.baseURL + "/get_work"
	if batchSize > 1 {
		url += "?batch_size=" + strconv.Itoa(batchSize)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build get_work request: %w", err)
	}

	var resp api.WorkResponse

	doErr := c.do(req, &resp)
	if doErr != nil {
		return nil, doErr
	}

	return &resp, nil
}

// SubmitResults submits a batch of completed rows.
func (c *Client) SubmitResults(ctx context.Context, items []api.ResultItem) error {
	body, err := json.Marshal(api.SubmitRequest{Items: items})
	if err != nil {
		return fmt.Errorf("marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit_result", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build submit request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	var resp api.SubmitResponse

	return c.do(req, &resp)
}

// Status fetches the server's tracker counters.
func (c *Client) Status(ctx context.Context) (*api.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	var resp api.Status

	doErr := c.do(req, &resp)
	if doErr != nil {
		return nil, doErr
	}

	return &resp, nil
}

// do executes the request and decodes the JSON response into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		var apiErr api.ErrorResponse

		decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr)
		if decodeErr != nil || apiErr.Error == "" {
			return ErrRejected
		}

		return fmt.Errorf("%w: %s", ErrRejected, apiErr.Error)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("%s %s: unexpected status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}

	decodeErr := json.NewDecoder(resp.Body).Decode(out)
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}

	return nil
}

// WorkFunc computes the result line for one work item.
type WorkFunc func(ctx context.Context, item api.WorkItem) (string, error)

// Run fetches and processes work until the server reports completion.
// Retry hints are honored by sleeping; a WorkFunc error aborts the loop.
func (c *Client) Run(ctx context.Context, batchSize int, fn WorkFunc) error {
	for {
		resp, err := c.GetWork(ctx, batchSize)
		if err != nil {
			return err
		}

		switch resp.Status {
		case api.StatusAllWorkComplete:
			return nil
		case api.StatusRetry:
			sleepErr := sleepCtx(ctx, time.Duration(resp.RetryIn)*time.Second)
			if sleepErr != nil {
				return sleepErr
			}
		case api.StatusOK:
			results := make([]api.ResultItem, 0, len(resp.Items))

			for _, item := range resp.Items {
				result, fnErr := fn(ctx, item)
				if fnErr != nil {
					return fmt.Errorf("process work %d: %w", item.WorkID, fnErr)
				}

				results = append(results, api.ResultItem{RowID: item.WorkID, Result: result})
			}

			submitErr := c.SubmitResults(ctx, results)
			if submitErr != nil {
				return submitErr
			}
		default:
			return fmt.Errorf("unexpected get_work status %q", resp.Status)
		}
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Second
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
