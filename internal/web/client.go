package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/ops"
	"github.com/hpungsan/eidon/internal/scheduler"
)

// clientTimeout bounds one request to the daemon. Manual captures run OCR,
// so this is generous.
const clientTimeout = 30 * time.Second

// Client talks to a running daemon's JSON API. It satisfies
// ops.CaptureController so the CLI and MCP server can control capture
// without owning the scheduler.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ ops.CaptureController = (*Client)(nil)

// NewClient returns a client for the daemon at baseURL (for example
// "http://127.0.0.1:8765").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: clientTimeout},
	}
}

// Status implements ops.CaptureController.
func (c *Client) Status(ctx context.Context) (scheduler.Status, error) {
	var st scheduler.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

// SetActive implements ops.CaptureController.
func (c *Client) SetActive(ctx context.Context, active bool) (scheduler.Status, error) {
	var st scheduler.Status
	err := c.do(ctx, http.MethodPost, "/api/capture/toggle", map[string]bool{"active": active}, &st)
	return st, err
}

// CaptureNow implements ops.CaptureController.
func (c *Client) CaptureNow(ctx context.Context) (scheduler.Result, error) {
	var out ops.CaptureNowOutput
	err := c.do(ctx, http.MethodPost, "/api/capture/manual", nil, &out)
	return out.Result, err
}

// Ping reports whether the daemon answers.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.Status(ctx)
	return err == nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.NewInternal(err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.NewInternal(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewCaptureFailed(fmt.Errorf("daemon not reachable at %s (start it with `eidon daemon`)", c.baseURL))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return errors.NewCaptureFailed(fmt.Errorf("read daemon response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.NewInternal(fmt.Errorf("decode daemon response: %w", err))
	}
	return nil
}

// decodeError turns the JSON error envelope back into an EidonError.
func decodeError(status int, raw []byte) error {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Code == "" {
		return &errors.EidonError{
			Code:    errors.ErrInternal,
			Status:  status,
			Message: fmt.Sprintf("daemon returned HTTP %d", status),
		}
	}
	return &errors.EidonError{
		Code:    errors.ErrorCode(body.Error.Code),
		Status:  body.Error.Status,
		Message: body.Error.Message,
		Details: body.Error.Details,
	}
}
