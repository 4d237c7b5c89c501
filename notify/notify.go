// Package notify queues toast notifications for a browser session. The
// gateway raises them while handling requests; the dashboard drains and
// shows them.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mnehpets/rescdash/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Variant is the visual style of a notification.
type Variant string

const (
	Danger  Variant = "danger"
	Success Variant = "success"
)

// Notification is a toast shown by the dashboard.
type Notification struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	Variant Variant `json:"variant"`
	// AutoHideDelay is in milliseconds.
	AutoHideDelay int64     `json:"autoHideDelay"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Notifier pushes notifications to the browser session named by id.
type Notifier interface {
	Push(ctx context.Context, id string, n Notification) error
}

// maxQueued bounds the notifications kept for a session that never drains.
const maxQueued = 20

// Queue is a Notifier keeping notifications in the session's local storage.
type Queue struct {
	store session.Store
	log   zerolog.Logger
	now   func() time.Time
	// mu serializes the read-modify-write of the notifications item.
	mu sync.Mutex
}

func NewQueue(store session.Store, log zerolog.Logger) *Queue {
	return &Queue{
		store: store,
		log:   log.With().Str("component", "notify").Logger(),
		now:   time.Now,
	}
}

// Push appends n to the session's queue, filling in ID and CreatedAt.
func (q *Queue) Push(ctx context.Context, id string, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = q.now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	queued, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	queued = append(queued, n)
	if len(queued) > maxQueued {
		queued = queued[len(queued)-maxQueued:]
	}
	b, err := json.Marshal(queued)
	if err != nil {
		return err
	}
	if err := q.store.SetItem(ctx, id, session.NotificationsKey, string(b)); err != nil {
		return err
	}

	q.log.Debug().
		Str("session", id).
		Str("variant", string(n.Variant)).
		Str("title", n.Title).
		Msg("notification queued")
	return nil
}

// Drain removes and returns all queued notifications, oldest first.
func (q *Queue) Drain(ctx context.Context, id string) ([]Notification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queued, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(queued) == 0 {
		return []Notification{}, nil
	}
	if err := q.store.RemoveItem(ctx, id, session.NotificationsKey); err != nil {
		return nil, err
	}
	return queued, nil
}

func (q *Queue) load(ctx context.Context, id string) ([]Notification, error) {
	raw, ok, err := q.store.GetItem(ctx, id, session.NotificationsKey)
	if err != nil || !ok {
		return nil, err
	}
	var queued []Notification
	if err := json.Unmarshal([]byte(raw), &queued); err != nil {
		// A corrupt queue is dropped rather than blocking every later push.
		q.log.Warn().Err(err).Str("session", id).Msg("discarding unreadable notification queue")
		return nil, nil
	}
	return queued, nil
}

// New builds a notification with a delay given as a duration.
func New(variant Variant, title, body string, autoHide time.Duration) Notification {
	return Notification{
		Title:         title,
		Body:          body,
		Variant:       variant,
		AutoHideDelay: autoHide.Milliseconds(),
	}
}

// PushDanger queues a danger notification and logs, rather than returns, a
// failure to queue it.
func PushDanger(ctx context.Context, n Notifier, id, body, title string, autoHide time.Duration) {
	push(ctx, n, id, New(Danger, title, body, autoHide))
}

// PushSuccess is PushDanger for success notifications.
func PushSuccess(ctx context.Context, n Notifier, id, body, title string, autoHide time.Duration) {
	push(ctx, n, id, New(Success, title, body, autoHide))
}

func push(ctx context.Context, n Notifier, id string, notification Notification) {
	if n == nil || id == "" {
		return
	}
	if err := n.Push(ctx, id, notification); err != nil {
		log.Warn().Err(err).Str("title", notification.Title).Msgf("failed to queue %s notification", notification.Variant)
	}
}
