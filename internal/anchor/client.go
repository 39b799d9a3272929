package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every control-plane call.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps response bodies read from the control-plane.
const maxResponseBytes = 2 << 20

// Client talks to the control-plane over HTTP. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call deadline. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for the control-plane at baseURL
// (for example "http://localhost:3000").
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("anchor: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("anchor: base url must be http or https, got %q", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("anchor: base url has no host: %q", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized control-plane URL.
func (c *Client) BaseURL() string { return c.baseURL }

// AnchorOne anchors a single hash.
func (c *Client) AnchorOne(ctx context.Context, dataHash, userDID string) (AnchorResult, error) {
	const op = "anchor"
	if dataHash == "" || userDID == "" {
		return AnchorResult{}, &RemoteError{Op: op, Message: "dataHash and userDID are required"}
	}

	var resp AnchorResponse
	req := AnchorRequest{UserDID: userDID, DataHash: dataHash}
	if _, err := c.do(ctx, op, http.MethodPost, PathAnchor, req, &resp); err != nil {
		return AnchorResult{}, err
	}
	if resp.AssetID == "" {
		return AnchorResult{}, &RemoteError{Op: op, StatusCode: http.StatusCreated, Message: "response missing assetId"}
	}
	return AnchorResult{AssetID: resp.AssetID, TxID: resp.TxID, BlockHeight: resp.BlockHeight}, nil
}

// AnchorBatch anchors every item in one ledger transaction. The result has
// exactly one asset id per item, in request order.
func (c *Client) AnchorBatch(ctx context.Context, items []BatchItem) (BatchResult, error) {
	const op = "anchor batch"
	if len(items) == 0 {
		return BatchResult{}, &RemoteError{Op: op, Message: "empty batch"}
	}

	var resp BatchResponse
	if _, err := c.do(ctx, op, http.MethodPost, PathAnchorBatch, BatchRequest{Assets: items}, &resp); err != nil {
		return BatchResult{}, err
	}
	if len(resp.Results) != len(items) {
		return BatchResult{}, &RemoteError{
			Op:         op,
			StatusCode: http.StatusCreated,
			Message:    fmt.Sprintf("got %d results for %d items", len(resp.Results), len(items)),
		}
	}

	out := BatchResult{TxID: resp.TxID, AssetIDs: make([]string, len(items))}
	for i, r := range resp.Results {
		if r.AssetID == "" {
			return BatchResult{}, &RemoteError{
				Op:         op,
				StatusCode: http.StatusCreated,
				Message:    fmt.Sprintf("result %d missing assetId", i),
			}
		}
		out.AssetIDs[i] = r.AssetID
	}
	return out, nil
}

// Verify fetches the anchored asset and compares its hash with localHash.
// A missing asset is not an error: Found and Verified are false.
func (c *Client) Verify(ctx context.Context, assetID, localHash string) (Verification, error) {
	const op = "verify"
	if assetID == "" {
		return Verification{}, &RemoteError{Op: op, Message: "assetId is required"}
	}

	var asset Asset
	status, err := c.do(ctx, op, http.MethodGet, PathVerify+url.PathEscape(assetID), nil, &asset)
	if status == http.StatusNotFound {
		return Verification{}, nil
	}
	if err != nil {
		return Verification{}, err
	}
	return Verification{
		Found:      true,
		Verified:   asset.DataHash == localHash,
		RemoteHash: asset.DataHash,
		Asset:      asset,
	}, nil
}

// Health checks that the control-plane is up.
func (c *Client) Health(ctx context.Context) error {
	const op = "health"
	var resp HealthResponse
	if _, err := c.do(ctx, op, http.MethodGet, PathHealth, nil, &resp); err != nil {
		return err
	}
	if !strings.EqualFold(resp.Status, "ok") {
		return &RemoteError{Op: op, StatusCode: http.StatusOK, Message: "unhealthy status " + resp.Status}
	}
	return nil
}

// do sends one request and decodes a 2xx JSON body into out. The HTTP
// status is returned even on error so callers can special-case it.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (int, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, &RemoteError{Op: op, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, &RemoteError{Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: "read body", Err: err}
	}
	c.logger.Debug("control-plane call",
		"op", op,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
		}
	}
	return resp.StatusCode, nil
}

// errorMessage extracts {"error": "..."} or falls back to the raw body.
func errorMessage(raw []byte) string {
	var er ErrorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error != "" {
		return er.Error
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 256 {
		msg = msg[:256] + "..."
	}
	return msg
}
