package session

import (
	"context"
	"errors"
)

var ErrNoSessionID = errors.New("session: no session id")

// Store keeps sessions and their local-storage items by browser-session id.
//
// Get never fails for an unknown id; it returns an empty session carrying
// that id. Update applies fn atomically with respect to other calls on the
// same store and persists the result; fn must not call back into the store.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, fn func(*Session) error) error
	Delete(ctx context.Context, id string) error

	// GetItem returns the item stored under key and whether it exists.
	GetItem(ctx context.Context, id, key string) (string, bool, error)
	SetItem(ctx context.Context, id, key, value string) error
	RemoveItem(ctx context.Context, id, key string) error
}

// LogOut clears every session field and removes the code verifier. It is
// safe to call for any id in any state.
func LogOut(ctx context.Context, store Store, id string) error {
	if id == "" {
		return ErrNoSessionID
	}
	if err := store.Update(ctx, id, func(s *Session) error {
		s.Clear()
		return nil
	}); err != nil {
		return err
	}
	return store.RemoveItem(ctx, id, CodeVerifierKey)
}

type idContextKey struct{}

// WithID stores the browser-session id in ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idContextKey{}, id)
}

// IDFromContext returns the browser-session id stored in ctx, if any.
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(idContextKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// RequireID is IDFromContext returning ErrNoSessionID when absent.
func RequireID(ctx context.Context) (string, error) {
	id, ok := IDFromContext(ctx)
	if !ok {
		return "", ErrNoSessionID
	}
	return id, nil
}
