package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/distqueue/distqueue/internal/taskdb"
)

// ErrTransient marks a failure spec §7 classifies as transient
// infrastructure failure: the caller should retry with backoff, and the
// worker should fall back to its submission cache for Submit.
var ErrTransient = errors.New("api: transient failure")

// Client is the worker-side HTTP client for the operations W calls on C
// (spec §6). It is core plumbing, not the out-of-scope end-user
// submission tooling.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client with the bounded timeout spec §5 requires for
// control operations (10s recommended default).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithTimeout returns a Client sharing the connection pool but using a
// different timeout — used for SubmitResult, whose payloads may be larger
// and slower than control ops (spec §5).
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	return &Client{baseURL: c.baseURL, httpClient: &http.Client{Timeout: timeout}}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (rejectBody *errorBody, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(mustJSON(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("api client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &eb, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return nil, fmt.Errorf("api client: %s", eb.Error)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("api client: decode response: %w", err)
		}
	}
	return nil, nil
}

// SubmitTask calls the client-facing SubmitTask operation. Worker code
// never calls this; it is exposed for completeness of the core's client
// surface and used by tests driving end-to-end scenarios.
func (c *Client) SubmitTask(ctx context.Context, taskType string, payload []byte) (uint64, error) {
	var resp submitTaskResponse
	_, err := c.do(ctx, http.MethodPost, "/v1/tasks", submitTaskRequest{TaskType: taskType, Payload: payload}, &resp)
	return resp.TaskID, err
}

func (c *Client) GetTask(ctx context.Context, id uint64) (taskdb.Task, error) {
	var t taskdb.Task
	_, err := c.do(ctx, http.MethodGet, "/v1/tasks/"+strconv.FormatUint(id, 10), nil, &t)
	return t, err
}

func (c *Client) Claim(ctx context.Context, workerID string, leaseDuration time.Duration) (taskdb.ClaimResult, error) {
	var resp claimResponse
	_, err := c.do(ctx, http.MethodPost, "/v1/claims", claimRequest{WorkerID: workerID, LeaseDuration: leaseDuration}, &resp)
	if err != nil {
		return taskdb.ClaimResult{}, err
	}
	res := taskdb.ClaimResult{Found: resp.Found}
	if resp.Found && resp.Task != nil {
		res.Task = *resp.Task
		res.Checkpoint = resp.Checkpoint
	}
	return res, nil
}

// SubmitResult returns (ack bool, err error). ack=false with err=nil means
// REJECT: the worker must discard the result, not retry.
func (c *Client) SubmitResult(ctx context.Context, workerID string, taskID uint64, outcome taskdb.Outcome, blob []byte) (bool, error) {
	reject, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/tasks/%d/result", taskID),
		submitResultRequest{WorkerID: workerID, Outcome: outcome, Blob: blob}, nil)
	if err != nil {
		return false, err
	}
	return reject == nil, nil
}

// SaveCheckpoint returns the refreshed lease deadline and ok=true on ACK.
// On REJECT it returns the zero time, ok=false and a nil error.
func (c *Client) SaveCheckpoint(ctx context.Context, workerID string, taskID uint64, state []byte, elapsedMS int64) (time.Time, bool, error) {
	var resp checkpointResponse
	reject, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/tasks/%d/checkpoint", taskID),
		checkpointRequest{WorkerID: workerID, State: state, ElapsedMS: elapsedMS}, &resp)
	if err != nil {
		return time.Time{}, false, err
	}
	if reject != nil {
		return time.Time{}, false, nil
	}
	return resp.LeaseExpiresAt, true, nil
}

func (c *Client) Heartbeat(ctx context.Context, workerID string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/workers/"+workerID+"/heartbeat", heartbeatRequest{WorkerID: workerID}, nil)
	return err
}
