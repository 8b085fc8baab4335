// Package classifier talks to the remote qualitative classifier.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/internal/domain/scoring"
	"github.com/okian/yieldboard/pkg/logger"
)

const (
	classifyPath      = "/classify"
	defaultTimeout    = 2 * time.Second
	defaultRetries    = 2
	defaultMinBackoff = 100 * time.Millisecond
	defaultMaxBackoff = time.Second
	maxResponseBytes  = 1 << 16
)

type classifyRequest struct {
	AccountID  string    `json:"account_id"`
	Kind       string    `json:"kind"`
	Weight     float64   `json:"weight"`
	DedupKey   string    `json:"dedup_key"`
	SourceTime time.Time `json:"source_time"`
}

type classifyResponse struct {
	Multiplier *float64 `json:"multiplier"`
}

// HTTPClassifier implements scoring.Classifier over a JSON endpoint. Every
// failure, including an exhausted retry budget, is reported as
// scoring.ErrClassifierUnavailable.
type HTTPClassifier struct {
	baseURL    string
	timeout    time.Duration
	retries    int
	minBackoff time.Duration
	maxBackoff time.Duration
	client     *retryablehttp.Client
	logger     logger.Logger
}

// NewHTTP creates a classifier client for baseURL.
func NewHTTP(baseURL string, opts ...Option) *HTTPClassifier {
	c := &HTTPClassifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    defaultTimeout,
		retries:    defaultRetries,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		logger:     logger.Get().Named("classifier"),
	}
	for _, opt := range opts {
		opt(c)
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.HTTPClient.Timeout = c.timeout
	rc.RetryMax = c.retries
	rc.RetryWaitMin = c.minBackoff
	rc.RetryWaitMax = c.maxBackoff
	rc.Logger = nil
	c.client = rc
	return c
}

var _ scoring.Classifier = (*HTTPClassifier)(nil)

// Classify implements scoring.Classifier.
func (c *HTTPClassifier) Classify(ctx context.Context, rec model.ContributionRecord) (float64, error) {
	body, err := json.Marshal(classifyRequest{
		AccountID:  rec.AccountID,
		Kind:       rec.Kind,
		Weight:     rec.Weight,
		DedupKey:   rec.DedupKey,
		SourceTime: rec.SourceTime.UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: encode: %w", scoring.ErrClassifierUnavailable, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+classifyPath, body)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", scoring.ErrClassifierUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", scoring.ErrClassifierUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return 0, fmt.Errorf("%w: status %d", scoring.ErrClassifierUnavailable, resp.StatusCode)
	}
	var out classifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: decode: %w", scoring.ErrClassifierUnavailable, err)
	}
	if out.Multiplier == nil {
		return 0, fmt.Errorf("%w: response without multiplier", scoring.ErrClassifierUnavailable)
	}
	c.logger.Debug(ctx, "classified",
		logger.String("account", rec.AccountID),
		logger.String("dedup_key", rec.DedupKey),
		logger.Float64("multiplier", *out.Multiplier),
	)
	return *out.Multiplier, nil
}
