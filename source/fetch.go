package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tmshv/rfpharvest/config"
)

var (
	// ErrUnexpectedStatusCode indicates an HTTP response with unexpected status.
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	ErrBodyTooLarge         = errors.New("response body too large")
)

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Client            *http.Client
	Retry             config.RetryPolicy
	UserAgent         string
	MaxBodyKb         int
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// Fetcher performs GET requests with retry, per-host rate limiting and a
// body size limit. It is safe for concurrent use by several adapters.
type Fetcher struct {
	client    *http.Client
	retry     config.RetryPolicy
	userAgent string
	maxBody   int64
	rps       float64
	log       *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher creates a fetcher. Timeouts come from the request context.
func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.MaxBodyKb <= 0 {
		opts.MaxBodyKb = 4096
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		client:    client,
		retry:     opts.Retry,
		userAgent: opts.UserAgent,
		maxBody:   int64(opts.MaxBodyKb) * 1024,
		rps:       opts.RequestsPerSecond,
		log:       log,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Get fetches rawURL and returns the response body.
func (f *Fetcher) Get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= f.retry.MaxAttempts; attempt++ {
		if delay := f.retry.GetRetryDelay(attempt); delay > 0 {
			f.log.Debug("Retry scheduled",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			if err := sleep(ctx, delay); err != nil {
				return nil, errors.Join(lastErr, err)
			}
		}

		if err := f.limiter(u.Host).Wait(ctx); err != nil {
			return nil, errors.Join(lastErr, err)
		}

		body, retryable, err := f.do(ctx, rawURL, headers)
		if err == nil {
			return body, nil
		}
		lastErr = fmt.Errorf("attempt %d/%d: %w", attempt, f.retry.MaxAttempts, err)

		f.log.Warn("Fetch failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		if !retryable || ctx.Err() != nil {
			break
		}
	}

	return nil, lastErr
}

func (f *Fetcher) do(ctx context.Context, rawURL string, headers map[string]string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml,application/json;q=0.9,*/*;q=0.8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.log.Warn("Failed to close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, isRetryableStatus(resp.StatusCode), fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, false, fmt.Errorf("%w: body exceeds max_body_kb (%d bytes)", ErrBodyTooLarge, f.maxBody)
	}
	return body, false, nil
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[host]
	if !ok {
		limit := rate.Inf
		if f.rps > 0 {
			limit = rate.Limit(f.rps)
		}
		l = rate.NewLimiter(limit, 1)
		f.limiters[host] = l
	}
	return l
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isRetryableStatus determines if we should retry based on HTTP status code.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusBadGateway:
		return true
	}
	return false
}
