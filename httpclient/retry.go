package httpclient

import (
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// DefaultRetries is the number of retries after the first attempt.
const DefaultRetries = 3

// RetryTransport retries requests whose round trip failed without a
// response. Requests with a body are only retried when the body can be
// replayed through GetBody.
type RetryTransport struct {
	base       http.RoundTripper
	retries    int
	newBackOff func() backoff.BackOff
	log        zerolog.Logger
}

// RetryOption configures a RetryTransport.
type RetryOption func(*RetryTransport)

// WithBackOff sets the factory for the backoff policy of each request.
func WithBackOff(f func() backoff.BackOff) RetryOption {
	return func(t *RetryTransport) {
		t.newBackOff = f
	}
}

// WithRetryLogger sets the logger used to report retried attempts.
func WithRetryLogger(log zerolog.Logger) RetryOption {
	return func(t *RetryTransport) {
		t.log = log
	}
}

// NewRetryTransport wraps base, which defaults to http.DefaultTransport.
func NewRetryTransport(base http.RoundTripper, retries int, opts ...RetryOption) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if retries < 0 {
		retries = 0
	}
	t := &RetryTransport{
		base:    base,
		retries: retries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	if t.retries == 0 || !replayable {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	attempt := 0
	operation := func() (*http.Response, error) {
		out := req
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			out = req.Clone(ctx)
			out.Body = body
		}
		attempt++

		resp, err := t.base.RoundTrip(out)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrRequestCancelled) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(t.newBackOff()),
		backoff.WithMaxTries(uint(t.retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			t.log.Debug().
				Err(err).
				Str("url", req.URL.Redacted()).
				Dur("next", next).
				Msg("retrying request")
		}),
	)
}
