package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient sends requests through a Breaker with per-attempt timeouts and
// jittered exponential retries. Transport errors and 5xx responses are
// retried and reported as failures; everything else goes back to the caller
// on the first attempt. When every attempt ends in a 5xx the last response
// is returned so the caller can read its body.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker // nil never refuses
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	Target      string
	Logger      *zerolog.Logger
}

// Do sends req. The body is buffered once so each attempt can resend it.
// ErrOpenCircuit is returned while the breaker refuses calls.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	payload, err := bufferBody(req)
	if err != nil {
		return nil, err
	}
	attempts := max(cl.MaxAttempts, 1)
	base := cl.BaseBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	var lastErr error
	for n := 1; ; n++ {
		if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
			return nil, ErrOpenCircuit
		}
		resp, err := cl.send(ctx, withBody(ctx, req, payload))
		healthy := err == nil && resp.StatusCode < http.StatusInternalServerError
		if cl.Breaker != nil {
			cl.Breaker.Report(ctx, healthy)
		}
		switch {
		case healthy:
			return resp, nil
		case err != nil:
			lastErr = err
		case n == attempts:
			return resp, nil
		default:
			lastErr = fmt.Errorf("upstream status %s", resp.Status)
			discard(resp)
		}
		if n == attempts || ctx.Err() != nil {
			return nil, lastErr
		}

		target := cl.label()
		if RetryAttempts != nil {
			RetryAttempts.WithLabelValues(target).Inc()
		}
		if cl.Logger != nil {
			cl.Logger.Debug().Str("target", target).Int("attempt", n).Err(lastErr).Msg("retrying_request")
		}
		if err := wait(ctx, Backoff(base, n, cl.Jitter)); err != nil {
			return nil, err
		}
	}
}

// send applies the per-attempt timeout. The timeout context lives until the
// caller closes the body.
func (cl HTTPClient) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Timeout <= 0 {
		return cl.Client.Do(req)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, cl.Timeout)
	resp, err := cl.Client.Do(req.WithContext(attemptCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = bodyCloser{ReadCloser: resp.Body, done: cancel}
	return resp, nil
}

func (cl HTTPClient) label() string {
	if t := strings.TrimSpace(cl.Target); t != "" {
		return t
	}
	return "default"
}

type bodyCloser struct {
	io.ReadCloser
	done context.CancelFunc
}

func (b bodyCloser) Close() error {
	defer b.done()
	return b.ReadCloser.Close()
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func discard(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func withBody(ctx context.Context, req *http.Request, payload []byte) *http.Request {
	out := req.Clone(ctx)
	if payload == nil {
		return out
	}
	out.ContentLength = int64(len(payload))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	out.Body, _ = out.GetBody()
	return out
}
