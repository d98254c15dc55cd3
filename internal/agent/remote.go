package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/alertbot/internal/domain"
)

const defaultRemoteTimeout = 10 * time.Second

// maxRemoteResponseSize caps how much of a remote reply is read.
const maxRemoteResponseSize = 1 << 20

var errRemoteStatus = errors.New("remote service returned non-success status")

// remoteClient posts JSON to an external service with bearer authentication.
type remoteClient struct {
	url    string
	apiKey string
	http   *http.Client
	logger *slog.Logger
}

func newRemoteClient(url, apiKey string, timeout time.Duration, logger *slog.Logger) remoteClient {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return remoteClient{
		url:    url,
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c remoteClient) post(ctx context.Context, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", c.url, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close remote response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", errRemoteStatus, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRemoteResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// RemoteClassifier delegates classification to an external HTTP service.
//
// Request:  {"message": "...", "history": [...]}
// Response: {"intent": "SUBSCRIBE", "params": {"channel": "SMS"}}
type RemoteClassifier struct {
	client remoteClient
}

// NewRemoteClassifier creates a classifier backed by the service at url.
func NewRemoteClassifier(url, apiKey string, timeout time.Duration, logger *slog.Logger) *RemoteClassifier {
	return &RemoteClassifier{client: newRemoteClient(url, apiKey, timeout, logger)}
}

type remoteClassifyRequest struct {
	Message string           `json:"message"`
	History []domain.Message `json:"history,omitempty"`
}

type remoteClassifyResponse struct {
	Intent string            `json:"intent"`
	Params map[string]string `json:"params"`
}

// Classify implements Classifier. Summaries always come from the local table
// so re-entry keeps working regardless of what the service returns.
func (r *RemoteClassifier) Classify(ctx context.Context, text string, history []domain.Message) (Classification, error) {
	var out remoteClassifyResponse
	if err := r.client.post(ctx, remoteClassifyRequest{Message: text, History: history}, &out); err != nil {
		return Unknown(), fmt.Errorf("remote classify: %w", err)
	}

	intent := ParseIntent(out.Intent)
	if intent == IntentUnknown {
		return Unknown(), nil
	}
	c := newClassification(intent)
	for k, v := range out.Params {
		c.Params[k] = v
	}
	return c, nil
}

// RemoteExecutor delegates actions to an external HTTP service.
//
// Request:  {"intent": "...", "params": {...}, "sessionId": "...", "customerId": "...", ...}
// Response: {"success": true, "message": "..."}
type RemoteExecutor struct {
	client remoteClient
}

// NewRemoteExecutor creates an executor backed by the service at url.
func NewRemoteExecutor(url, apiKey string, timeout time.Duration, logger *slog.Logger) *RemoteExecutor {
	return &RemoteExecutor{client: newRemoteClient(url, apiKey, timeout, logger)}
}

type remoteActionRequest struct {
	Intent     Intent            `json:"intent"`
	Params     map[string]string `json:"params,omitempty"`
	SessionID  string            `json:"sessionId"`
	CustomerID string            `json:"customerId,omitempty"`
	ECN        string            `json:"ecn,omitempty"`
	XAID       string            `json:"xaId,omitempty"`
}

// Execute implements Executor.
func (r *RemoteExecutor) Execute(ctx context.Context, c Classification, s domain.Session) (ActionResult, error) {
	req := remoteActionRequest{
		Intent:     c.Intent,
		Params:     c.Params,
		SessionID:  s.ID,
		CustomerID: s.CustomerID,
		ECN:        s.ECN,
		XAID:       s.XAID,
	}

	var out ActionResult
	if err := r.client.post(ctx, req, &out); err != nil {
		return ActionResult{}, fmt.Errorf("remote action: %w", err)
	}
	if out.Message == "" {
		out.Message = cannedActionMessage(c.Intent)
	}
	return out, nil
}
