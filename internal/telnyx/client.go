package telnyx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/origen-labs/voicebridge/internal/config"
	"github.com/origen-labs/voicebridge/internal/reliability"
)

const (
	maxAttempts  = 3
	retryBase    = 200 * time.Millisecond
	retryCeiling = time.Second
)

// Client issues Call Control actions against the Telnyx REST API.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// StreamingStartRequest configures bidirectional media streaming for a call.
type StreamingStartRequest struct {
	StreamURL                string `json:"stream_url"`
	StreamTrack              string `json:"stream_track"`
	StreamBidirectionalMode  string `json:"stream_bidirectional_mode"`
	StreamBidirectionalCodec string `json:"stream_bidirectional_codec"`
}

// TransferRequest moves the call leg to a SIP destination.
type TransferRequest struct {
	To            string             `json:"to"`
	TimeoutSecs   int                `json:"timeout_secs"`
	TimeLimitSecs int                `json:"time_limit_secs"`
	SIPHeaders    []config.SIPHeader `json:"sip_headers,omitempty"`
}

func NewClient(apiKey, baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.telnyx.com/v2"
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Answer and StreamingStart run at the webhook boundary and are safe to
// retry: re-answering an answered call is a provider-side no-op. Transfer
// and Hangup execute a deferred operation and are posted exactly once; a
// transfer failure is handled by the executor's hangup fallback, never by
// re-posting the action.

func (c *Client) Answer(ctx context.Context, callControlID string) error {
	return c.actionWithRetry(ctx, callControlID, "answer", nil)
}

func (c *Client) StreamingStart(ctx context.Context, callControlID string, req StreamingStartRequest) error {
	return c.actionWithRetry(ctx, callControlID, "streaming_start", req)
}

func (c *Client) Transfer(ctx context.Context, callControlID string, req TransferRequest) error {
	return c.action(ctx, callControlID, "transfer", req)
}

func (c *Client) Hangup(ctx context.Context, callControlID string) error {
	return c.action(ctx, callControlID, "hangup", nil)
}

// action posts one Call Control command exactly once.
func (c *Client) action(ctx context.Context, callControlID, action string, body any) error {
	data, err := marshalAction(action, body)
	if err != nil {
		return err
	}
	_, err = c.attempt(ctx, callControlID, action, data)
	return err
}

// actionWithRetry posts a Call Control command, retrying transient failures
// with a capped backoff. Non-retryable statuses fail immediately.
func (c *Client) actionWithRetry(ctx context.Context, callControlID, action string, body any) error {
	data, err := marshalAction(action, body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.Backoff(attempt-1, retryBase, retryCeiling)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retryable, err := c.attempt(ctx, callControlID, action, data)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

func marshalAction(action string, body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", action, err)
	}
	return data, nil
}

func (c *Client) attempt(ctx context.Context, callControlID, action string, data []byte) (retryable bool, err error) {
	url := fmt.Sprintf("%s/calls/%s/actions/%s", c.baseURL, callControlID, action)

	var payload io.Reader
	if data != nil {
		payload = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return false, fmt.Errorf("create %s request: %w", action, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return true, fmt.Errorf("send %s request: %w", action, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		err := fmt.Errorf("telnyx %s status %d: %s", action, res.StatusCode, string(detail))
		return reliability.IsRetryableStatus(res.StatusCode), err
	}
	return false, nil
}
