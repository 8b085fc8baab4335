package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/okian/yieldboard/internal/domain/types"
	"github.com/shopspring/decimal"
)

const (
	maxRetries     = 3
	retryWaitMin   = 50 * time.Millisecond
	retryWaitMax   = 500 * time.Millisecond
	maxErrorBody   = 512
	defaultTimeout = 30 * time.Second
)

// statusError is a non-2xx response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// client is a thin JSON client for the yieldboard API.
type client struct {
	base string
	rc   *retryablehttp.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = retryWaitMin
	rc.RetryWaitMax = retryWaitMax
	rc.HTTPClient.Timeout = timeout
	rc.CheckRetry = readsOnly
	return &client{base: strings.TrimRight(baseURL, "/"), rc: rc}
}

// readsOnly retries GETs with the default policy. Stake and unstake are not
// idempotent, so POSTs are sent once.
func readsOnly(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.Request != nil && resp.Request.Method != http.MethodGet {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.rc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

type amountRequest struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
}

func (c *client) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *client) stake(ctx context.Context, account string, amount decimal.Decimal) (types.Balance, error) {
	var b types.Balance
	err := c.do(ctx, http.MethodPost, "/stake", amountRequest{AccountID: account, Amount: amount}, &b)
	return b, err
}

func (c *client) unstake(ctx context.Context, account string, amount decimal.Decimal) (types.Release, error) {
	var r types.Release
	err := c.do(ctx, http.MethodPost, "/unstake", amountRequest{AccountID: account, Amount: amount}, &r)
	return r, err
}

func (c *client) runEpoch(ctx context.Context, epoch uint64) (types.EpochReport, error) {
	var r types.EpochReport
	err := c.do(ctx, http.MethodPost, "/epochs/"+strconv.FormatUint(epoch, 10)+"/run", nil, &r)
	return r, err
}

func (c *client) leaderboard(ctx context.Context, epoch *uint64, limit int) ([]types.Entry, error) {
	q := "/leaderboard?limit=" + strconv.Itoa(limit)
	if epoch != nil {
		q += "&epoch=" + strconv.FormatUint(*epoch, 10)
	}
	var entries []types.Entry
	err := c.do(ctx, http.MethodGet, q, nil, &entries)
	return entries, err
}

func (c *client) rank(ctx context.Context, account string, epoch *uint64) (types.Entry, error) {
	q := "/rank/" + account
	if epoch != nil {
		q += "?epoch=" + strconv.FormatUint(*epoch, 10)
	}
	var e types.Entry
	err := c.do(ctx, http.MethodGet, q, nil, &e)
	return e, err
}
