package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	domain "github.com/okian/yieldboard/internal/domain/settlement"
)

const (
	defaultTimeout  = 10 * time.Second
	maxErrorBodyLen = 512
)

// HTTPClient talks to the settlement service:
//
//	POST {base}/settlements        submit, 200 with a receipt when confirmed
//	GET  {base}/settlements/{key}  status, 404 when the key is unknown
//
// 400, 409 and 422 are rejections; every other failure is retryable.
type HTTPClient struct {
	base    string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPClient creates a client for the settlement service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		base:    strings.TrimRight(baseURL, "/"),
		client:  cleanhttp.DefaultPooledClient(),
		timeout: timeout,
	}
}

// Submit implements domain.Settler.
func (c *HTTPClient) Submit(ctx context.Context, req domain.Request) (domain.Receipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("%w: encode: %w", domain.ErrRejected, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/settlements", bytes.NewReader(body))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("%w: %w", domain.ErrRejected, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Key)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("%w: %w", domain.ErrRetryable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var r domain.Receipt
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return domain.Receipt{}, fmt.Errorf("%w: decode receipt: %w", domain.ErrRetryable, err)
		}
		return classify(req.Key, r)
	case resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusConflict ||
		resp.StatusCode == http.StatusUnprocessableEntity:
		return domain.Receipt{}, fmt.Errorf("%w: %s", domain.ErrRejected, readReason(resp))
	default:
		return domain.Receipt{}, fmt.Errorf("%w: %s", domain.ErrRetryable, readReason(resp))
	}
}

// Status implements domain.Settler.
func (c *HTTPClient) Status(ctx context.Context, key string) (domain.Receipt, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/settlements/"+url.PathEscape(key), http.NoBody)
	if err != nil {
		return domain.Receipt{}, false, err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("%w: %w", domain.ErrRetryable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var r domain.Receipt
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return domain.Receipt{}, false, fmt.Errorf("%w: decode status: %w", domain.ErrRetryable, err)
		}
		return r, true, nil
	case http.StatusNotFound:
		return domain.Receipt{}, false, nil
	default:
		return domain.Receipt{}, false, fmt.Errorf("%w: %s", domain.ErrRetryable, readReason(resp))
	}
}

func classify(key string, r domain.Receipt) (domain.Receipt, error) {
	if r.Key == "" {
		r.Key = key
	}
	switch r.State {
	case domain.StateConfirmed:
		return r, nil
	case domain.StateRejected:
		return r, fmt.Errorf("%w: %s", domain.ErrRejected, r.Reason)
	default:
		return r, fmt.Errorf("%w: settlement state %q", domain.ErrRetryable, r.State)
	}
}

func readReason(resp *http.Response) string {
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	if err != nil && !errors.Is(err, io.EOF) {
		return resp.Status
	}
	if msg := strings.TrimSpace(string(b)); msg != "" {
		return resp.Status + ": " + msg
	}
	return resp.Status
}
