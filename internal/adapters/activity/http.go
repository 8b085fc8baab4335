// Package activity fetches contribution records from the activity source.
package activity

import (
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
	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/pkg/logger"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 16 << 20
)

// ErrUnavailable reports a failed fetch that may succeed later.
var ErrUnavailable = errors.New("activity source unavailable")

type recordJSON struct {
	AccountID  string    `json:"account_id"`
	Kind       string    `json:"kind"`
	Weight     float64   `json:"weight"`
	SourceTime time.Time `json:"source_time"`
	DedupKey   string    `json:"dedup_key"`
}

type listResponse struct {
	Records []recordJSON `json:"records"`
}

// HTTPSource reads GET {base}/accounts/{id}/contributions?from=&to=.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	logger  logger.Logger
}

// NewHTTP creates an activity client for baseURL.
func NewHTTP(baseURL string, opts ...Option) *HTTPSource {
	s := &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  cleanhttp.DefaultPooledClient(),
		logger:  logger.Get().Named("activity"),
	}
	s.client.Timeout = defaultTimeout
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch returns the records of subject inside w. subject is the account id or
// its linked external identity. A subject unknown to the source has no records.
func (s *HTTPSource) Fetch(ctx context.Context, subject string, w model.Window) ([]model.ContributionRecord, error) {
	q := url.Values{}
	q.Set("from", w.Start.UTC().Format(time.RFC3339))
	q.Set("to", w.End.UTC().Format(time.RFC3339))
	endpoint := s.baseURL + "/accounts/" + url.PathEscape(subject) + "/contributions?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body listResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrUnavailable, err)
	}
	out := make([]model.ContributionRecord, len(body.Records))
	for i, r := range body.Records {
		acct := r.AccountID
		if acct == "" {
			acct = subject
		}
		out[i] = model.ContributionRecord{
			AccountID:  acct,
			Kind:       r.Kind,
			Weight:     r.Weight,
			SourceTime: r.SourceTime.UTC(),
			DedupKey:   r.DedupKey,
		}
	}
	s.logger.Debug(ctx, "fetched contributions",
		logger.String("subject", subject),
		logger.Int("records", len(out)),
	)
	return out, nil
}
