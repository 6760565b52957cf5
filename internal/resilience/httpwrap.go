package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxBodyBytes caps provider responses read into memory.
const maxBodyBytes = 8 << 20

// StatusError is returned by Fetch for non-2xx provider responses.
type StatusError struct {
	Target string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Target, e.Status)
}

// Response is a fully read provider response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// HTTPClient wraps an http.Client with retry, timeout and circuit-breaker logic.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
}

// NewInstrumentedClient returns an http.Client whose transport emits OpenTelemetry
// client spans for every provider call.
func NewInstrumentedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func (cl HTTPClient) target() string {
	if cl.Breaker == nil {
		return "default"
	}
	return cl.Breaker.Target()
}

// Do executes the request applying retry semantics. The request body is buffered so
// it can be replayed. Only transport errors and 5xx responses are retried. When the
// breaker is open ErrOpenCircuit is returned.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		breaker = NewBreaker(BreakerConfig{MinRequests: 1, FailureRatio: 1, OpenFor: time.Second})
	}
	maxAttempts := cl.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !breaker.Allow(ctx) {
			lastErr = ErrOpenCircuit
			ProviderRequests.WithLabelValues(cl.target(), "rejected").Inc()
			break
		}
		start := time.Now()
		resp, err := cl.doOnce(ctx, cloneRequest(ctx, req, body))
		ProviderLatency.WithLabelValues(cl.target()).Observe(float64(time.Since(start)) / float64(time.Millisecond))
		if err == nil && resp.StatusCode < 500 {
			breaker.Report(ctx, true)
			ProviderRequests.WithLabelValues(cl.target(), "ok").Inc()
			return resp, nil
		}
		if err == nil {
			lastErr = &StatusError{Target: cl.target(), Status: resp.StatusCode}
			_ = resp.Body.Close()
		} else {
			lastErr = err
		}
		breaker.Report(ctx, false)
		ProviderRequests.WithLabelValues(cl.target(), "error").Inc()
		if attempt == maxAttempts {
			break
		}
		timer := time.NewTimer(Backoff(cl.BaseBackoff, attempt, cl.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// Fetch runs Do and reads the whole body. Non-2xx responses are returned as a
// *StatusError carrying the body so callers can surface provider error payloads.
func (cl HTTPClient) Fetch(ctx context.Context, req *http.Request) (Response, error) {
	resp, err := cl.Do(ctx, req)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, err
	}
	out := Response{Status: resp.StatusCode, Header: resp.Header, Body: data}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &StatusError{Target: cl.target(), Status: resp.StatusCode, Body: data}
	}
	return out, nil
}

func (cl HTTPClient) doOnce(ctx context.Context, req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		return cl.Client.Do(req)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	_ = req.Body.Close()
	return data, nil
}

func cloneRequest(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		clone.ContentLength = int64(len(body))
	}
	return clone
}
