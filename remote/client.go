package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client mirrors the local ledger/session API over HTTP/1.1 against a
// remote participant's Server (spec §4.7). Every method blocks for at most
// the context's deadline; callbacks (heartbeat jitter, cleanup phases) are
// the caller's responsibility, not the client's.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against a remote Server listening at baseURL
// (e.g. "http://10.0.0.4:19880").
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second} //nolint:mnd
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// Health checks that the remote participant is reachable and returns its
// participantId.
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp struct {
		ParticipantID string `json:"participantId"`
	}
	if err := c.get(ctx, "/health", &resp); err != nil {
		return "", err
	}
	return resp.ParticipantID, nil
}

// CreateOperation asks the remote participant to create a new operation.
func (c *Client) CreateOperation(ctx context.Context, participantID, description string) (string, error) {
	var resp struct {
		OperationID string `json:"operationId"`
	}
	req := createOperationRequest{ParticipantID: participantID, Description: description}
	if err := c.post(ctx, "/operation/create", req, &resp); err != nil {
		return "", err
	}
	return resp.OperationID, nil
}

// JoinOperation attaches this client's caller to an existing remote operation.
func (c *Client) JoinOperation(ctx context.Context, operationID, participantID string) (int, error) {
	var resp struct {
		SessionID int `json:"sessionId"`
	}
	req := operationRequest{OperationID: operationID, ParticipantID: participantID}
	if err := c.post(ctx, "/operation/join", req, &resp); err != nil {
		return 0, err
	}
	return resp.SessionID, nil
}

// LeaveOperation notifies the remote participant this session has left.
func (c *Client) LeaveOperation(ctx context.Context, operationID string, cancelPendingCalls bool) error {
	req := operationRequest{OperationID: operationID, CancelPendingCalls: cancelPendingCalls}
	return c.post(ctx, "/operation/leave", req, nil)
}

// CompleteOperation asks the remote initiator to complete its operation.
func (c *Client) CompleteOperation(ctx context.Context, operationID string) error {
	return c.post(ctx, "/operation/complete", operationRequest{OperationID: operationID}, nil)
}

// Heartbeat advances the remote operation's lastHeartbeat.
func (c *Client) Heartbeat(ctx context.Context, operationID string) error {
	return c.post(ctx, "/operation/heartbeat", operationRequest{OperationID: operationID}, nil)
}

// Abort sets or clears the remote operation's aborted flag.
func (c *Client) Abort(ctx context.Context, operationID string, value bool) error {
	req := operationRequest{OperationID: operationID, Value: value}
	return c.post(ctx, "/operation/abort", req, nil)
}

// StateResponse is the decoded body of /operation/state.
type StateResponse struct {
	OperationID   string               `json:"operationId"`
	InitiatorID   string               `json:"initiatorId"`
	State         string               `json:"state"`
	Aborted       bool                 `json:"aborted"`
	LastHeartbeat time.Time            `json:"lastHeartbeat"`
	Frames        []stateResponseFrame `json:"frames"`
}

// State reads the remote operation's current document view.
func (c *Client) State(ctx context.Context, operationID string) (*StateResponse, error) {
	var resp StateResponse
	req := operationRequest{OperationID: operationID}
	if err := c.post(ctx, "/operation/state", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Log forwards a diagnostic message to the remote participant's logger.
func (c *Client) Log(ctx context.Context, operationID, level, message string) error {
	req := operationRequest{OperationID: operationID, Level: level, Message: message}
	return c.post(ctx, "/operation/log", req, nil)
}

// StartCall opens a call frame on the remote operation and returns its callId.
func (c *Client) StartCall(ctx context.Context, operationID, description string, failOnCrash bool) (string, error) {
	var resp struct {
		CallID string `json:"callId"`
	}
	req := callStartRequest{OperationID: operationID, Description: description, FailOnCrash: failOnCrash}
	if err := c.post(ctx, "/call/start", req, &resp); err != nil {
		return "", err
	}
	return resp.CallID, nil
}

// EndCall closes a successfully completed remote call frame.
func (c *Client) EndCall(ctx context.Context, operationID, callID string) error {
	req := callEndRequest{OperationID: operationID, CallID: callID}
	return c.post(ctx, "/call/end", req, nil)
}

// FailCall closes a remote call frame as failed.
func (c *Client) FailCall(ctx context.Context, operationID, callID, callErr string) error {
	req := callFailRequest{OperationID: operationID, CallID: callID, Error: callErr}
	return c.post(ctx, "/call/fail", req, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if jsonErr := json.Unmarshal(data, &env); jsonErr == nil && !env.OK {
		if env.Error != nil {
			return fmt.Errorf("remote %s %s: %s: %s", req.Method, req.URL.Path, env.Error.Type, env.Error.Message)
		}
		return fmt.Errorf("remote %s %s: unknown error (status %d)", req.Method, req.URL.Path, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("remote %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
