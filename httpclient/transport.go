package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mnehpets/rescdash/authutil"
	"github.com/mnehpets/rescdash/notify"
	"github.com/mnehpets/rescdash/session"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	sessionExpiredMessage = "Your session has expired. You will be redirected to the Login page."
	accessDeniedMessage   = "You do not have permission to access this resource. You will be redirected to the Login page."
	recordSavedMessage    = "Record saved successfully"
)

// maxErrorBody bounds how much of an error response is read to find its
// detail. The remainder is still forwarded.
const maxErrorBody = 64 << 10

// Transport attaches session credentials to outgoing requests and reports
// notable responses to the user. The browser session is taken from the
// request context; requests without one pass through untouched.
type Transport struct {
	base      http.RoundTripper
	store     session.Store
	notifier  notify.Notifier
	scheduler *Scheduler
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithBase sets the transport requests are sent through. It defaults to a
// RetryTransport over http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) {
		t.base = rt
	}
}

// WithClock sets the clock used to check token expiry.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) {
		t.now = now
	}
}

// WithLogger sets the transport's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Transport) {
		t.log = log
	}
}

func NewTransport(store session.Store, notifier notify.Notifier, scheduler *Scheduler, opts ...Option) *Transport {
	t := &Transport{
		store:     store,
		notifier:  notifier,
		scheduler: scheduler,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.base == nil {
		t.base = NewRetryTransport(http.DefaultTransport, DefaultRetries)
	}
	t.log = t.log.With().Str("component", "httpclient").Logger()
	return t
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	id, ok := session.IDFromContext(ctx)
	if !ok {
		return t.base.RoundTrip(req)
	}

	sess, err := t.store.Get(ctx, id)
	if err != nil {
		closeBody(req)
		return nil, fmt.Errorf("httpclient: failed to load session: %w", err)
	}

	out := req.Clone(ctx)
	if token := sess.AccessToken; token != "" {
		if authutil.IsTokenExpired(token, t.now()) {
			notify.PushDanger(ctx, t.notifier, id, sessionExpiredMessage, "Session Expired", 3*time.Second)
			t.scheduleLogout(id, "access token expired")
			closeBody(req)
			return nil, ErrRequestCancelled
		}
		out.Header.Set("Authorization", "Bearer "+token)
		out.Header.Set("Accept", "application/json")
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	t.inspect(req, id, resp)
	return resp, nil
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}

// inspect raises the notification matching resp. It leaves resp readable
// from the start.
func (t *Transport) inspect(req *http.Request, id string, resp *http.Response) {
	ctx := req.Context()
	switch {
	case resp.StatusCode == http.StatusCreated:
		notify.PushSuccess(ctx, t.notifier, id, recordSavedMessage, "Success", 5*time.Second)
	case resp.StatusCode == http.StatusForbidden:
		notify.PushDanger(ctx, t.notifier, id, accessDeniedMessage, "Access Denied", 3*time.Second)
		t.scheduleLogout(id, "access denied")
	case resp.StatusCode >= http.StatusBadRequest:
		body := peekBody(resp, maxErrorBody)
		notify.PushDanger(ctx, t.notifier, id, ErrorMessage(resp.StatusCode, body), "Error", 5*time.Second)
		t.log.Warn().
			Str("method", req.Method).
			Str("url", req.URL.Redacted()).
			Int("status", resp.StatusCode).
			Msg("request failed")
	}
}

func (t *Transport) scheduleLogout(id, reason string) {
	if t.scheduler == nil {
		return
	}
	if t.scheduler.Schedule(id) {
		t.log.Info().Str("session", id).Str("reason", reason).Msg("forcing logout")
	}
}

// ErrorMessage builds the notification body for an error response: the
// body's "detail" field when there is one, else the generic failure message.
func ErrorMessage(status int, body []byte) string {
	if detail := Detail(body); detail != "" {
		return fmt.Sprintf("Status: %d, %s", status, detail)
	}
	return fmt.Sprintf("Request failed with status code %d", status)
}

// Detail extracts the "detail" field of a JSON error body. Validation
// errors carry a list of objects; their "msg" fields are joined.
func Detail(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	detail := gjson.GetBytes(body, "detail")
	switch {
	case !detail.Exists():
		return ""
	case detail.IsArray():
		var msgs []string
		for _, m := range detail.Get("#.msg").Array() {
			msgs = append(msgs, m.String())
		}
		if len(msgs) == 0 {
			return detail.Raw
		}
		return strings.Join(msgs, "; ")
	default:
		return detail.String()
	}
}

// peekBody reads up to limit bytes of resp.Body and puts them back in front
// of the unread remainder.
func peekBody(resp *http.Response, limit int64) []byte {
	if resp.Body == nil {
		return nil
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(b), resp.Body), resp.Body}
	if err != nil {
		return nil
	}
	return b
}
