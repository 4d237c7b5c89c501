package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mnehpets/rescdash/endpoint"
	"github.com/mnehpets/rescdash/session"
	"github.com/rs/zerolog"
)

// DefaultCookieName names the browser-session cookie.
const DefaultCookieName = "RESCSID"

// DefaultSessionPeriod is how long a browser session lives without activity.
const DefaultSessionPeriod = 8 * time.Hour

// MaxExtendedPeriod caps the total lifetime of a browser session, however
// often it is extended.
const MaxExtendedPeriod = 7 * 24 * time.Hour

// DefaultExtendThreshold is the remaining lifetime below which an active
// session is extended.
const DefaultExtendThreshold = DefaultSessionPeriod / 4

// browserSession is the sealed cookie payload. Tokens and user state live in
// the session.Store under ID, never in the cookie.
type browserSession struct {
	ID      string    `cbor:"1,keysasint"`
	Issued  time.Time `cbor:"2,keysasint"`
	Expires time.Time `cbor:"3,keysasint"`
}

// valid reports whether the session is usable at now, and extends it in place
// when it is within threshold of expiring.
func (b *browserSession) valid(now time.Time, period, threshold time.Duration) (ok, extended bool) {
	if b.ID == "" || b.Issued.IsZero() || !now.Before(b.Expires) {
		return false, false
	}
	limit := b.Issued.Add(MaxExtendedPeriod)
	if !now.Before(limit) {
		return false, false
	}
	if b.Expires.Sub(now) >= threshold {
		return true, false
	}
	expires := now.Add(period).Truncate(time.Second)
	if expires.After(limit) {
		expires = limit
	}
	if !expires.After(b.Expires) {
		return true, false
	}
	b.Expires = expires
	return true, true
}

// SessionProcessor binds each request to a browser session. It restores the
// session id from a sealed cookie, or issues a new one, and stores it in the
// request context for session.IDFromContext. When the cookie of an expired
// session is presented, the server-side state is deleted from the store.
type SessionProcessor struct {
	cookie    *SecureCookie
	store     session.Store
	period    time.Duration
	threshold time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

type sessionProcessorConfig struct {
	cookieName    string
	cookieOptions []CookieOption
	period        time.Duration
	threshold     time.Duration
	now           func() time.Time
	log           zerolog.Logger
}

// SessionProcessorOption configures the SessionProcessor.
type SessionProcessorOption func(*sessionProcessorConfig)

// WithCookieName sets the name of the browser-session cookie.
func WithCookieName(name string) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.cookieName = name
	}
}

// WithCookieOptions adds options to the underlying SecureCookie.
func WithCookieOptions(opts ...CookieOption) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.cookieOptions = append(c.cookieOptions, opts...)
	}
}

// WithSessionPeriod sets the idle lifetime and the extension threshold.
func WithSessionPeriod(period, threshold time.Duration) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.period = period
		c.threshold = threshold
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.now = now
	}
}

func WithLogger(log zerolog.Logger) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.log = log
	}
}

func NewSessionProcessor(keyID string, keys map[string][]byte, store session.Store, opts ...SessionProcessorOption) (*SessionProcessor, error) {
	cfg := sessionProcessorConfig{
		cookieName: DefaultCookieName,
		period:     DefaultSessionPeriod,
		threshold:  DefaultExtendThreshold,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.period <= 0 {
		cfg.period = DefaultSessionPeriod
	}
	if cfg.threshold <= 0 || cfg.threshold > cfg.period {
		cfg.threshold = cfg.period / 4
	}

	cookie, err := NewSecureCookie(cfg.cookieName, keyID, keys, cfg.cookieOptions...)
	if err != nil {
		return nil, err
	}
	return &SessionProcessor{
		cookie:    cookie,
		store:     store,
		period:    cfg.period,
		threshold: cfg.threshold,
		now:       cfg.now,
		log:       cfg.log.With().Str("component", "session").Logger(),
	}, nil
}

// Process implements endpoint.Processor.
func (p *SessionProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	now := p.now()
	bs, dirty := p.restore(r, now)
	if bs == nil {
		bs = &browserSession{
			ID:      uuid.NewString(),
			Issued:  now.Truncate(time.Second),
			Expires: now.Add(p.period).Truncate(time.Second),
		}
		dirty = true
		p.log.Debug().Str("session", bs.ID).Msg("issued browser session")
	}

	if dirty {
		endpoint.Defer(r.Context(), func(w http.ResponseWriter) {
			c, err := p.cookie.Encode(bs, bs.Expires.Sub(p.now()))
			if err != nil {
				p.log.Error().Err(err).Msg("cannot seal session cookie")
				return
			}
			http.SetCookie(w, c)
		})
	}

	*r = *r.WithContext(session.WithID(r.Context(), bs.ID))
	return next(w, r)
}

// restore decodes the request's cookie. It returns nil when there is no
// usable session, and dirty when the cookie must be rewritten.
func (p *SessionProcessor) restore(r *http.Request, now time.Time) (*browserSession, bool) {
	c, err := r.Cookie(p.cookie.Name())
	if err != nil {
		return nil, false
	}
	var bs browserSession
	if err := p.cookie.Decode(c, &bs); err != nil {
		p.log.Debug().Err(err).Msg("discarding session cookie")
		return nil, false
	}
	ok, extended := bs.valid(now, p.period, p.threshold)
	if !ok {
		p.expire(r.Context(), bs.ID)
		return nil, false
	}
	return &bs, extended
}

func (p *SessionProcessor) expire(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := p.store.Delete(ctx, id); err != nil {
		p.log.Warn().Err(err).Str("session", id).Msg("cannot delete expired session")
		return
	}
	p.log.Debug().Str("session", id).Msg("expired browser session")
}

var _ endpoint.Processor = (*SessionProcessor)(nil)
