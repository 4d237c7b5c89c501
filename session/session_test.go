package session_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mnehpets/rescdash/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_UpdateAuthTokens(t *testing.T) {
	s := &session.Session{ID: "b1"}
	before := *s

	s.UpdateAuthTokens(&session.TokenData{IDToken: "X", AccessToken: "Y"})
	require.Equal(t, "X", s.IDToken)
	require.Equal(t, "Y", s.AccessToken)
	require.True(t, s.HasTokens())

	s.UpdateAuthTokens(nil)
	require.Empty(t, s.IDToken)
	require.Empty(t, s.AccessToken)
	require.False(t, s.HasTokens())
	require.Equal(t, before, *s)

	s.UpdateAuthTokens(nil)
	require.Equal(t, before, *s)
}

func TestSession_Mutations(t *testing.T) {
	s := &session.Session{ID: "b1"}
	require.Nil(t, s.UserDetails())

	s.UpdateUserDetails(&session.UserDetails{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
	s.UpdateSourceRoute("/a")
	s.UpdateDestinationRoute("/b")
	s.UpdatePreviousRouteState(json.RawMessage(`{"page":2}`))
	require.Equal(t, &session.UserDetails{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}, s.UserDetails())
	require.JSONEq(t, `{"page":2}`, string(s.PreviousRouteState))

	s.UpdatePreviousRouteState(json.RawMessage(" null "))
	require.Nil(t, s.PreviousRouteState)

	s.UpdateUserDetails(nil)
	require.Nil(t, s.UserDetails())

	s.Clear()
	require.Equal(t, session.Session{ID: "b1"}, *s)
}

func TestSession_JSONOmitsTokens(t *testing.T) {
	s := session.Session{ID: "b1", IDToken: "X", AccessToken: "Y", Email: "ada@example.com"}
	b, err := json.Marshal(s)
	require.NoError(t, err)
	require.JSONEq(t, `{"email":"ada@example.com"}`, string(b))
}

func TestIDContext(t *testing.T) {
	_, ok := session.IDFromContext(context.Background())
	require.False(t, ok)

	_, err := session.RequireID(context.Background())
	require.ErrorIs(t, err, session.ErrNoSessionID)

	ctx := session.WithID(context.Background(), "b1")
	id, ok := session.IDFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "b1", id)
}

func stores(t *testing.T) map[string]session.Store {
	t.Helper()
	sqlite, err := session.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]session.Store{
		"memory": session.NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s, err := store.Get(ctx, "b1")
			require.NoError(t, err)
			require.Equal(t, &session.Session{ID: "b1"}, s)

			err = store.Update(ctx, "b1", func(s *session.Session) error {
				s.UpdateAuthTokens(&session.TokenData{IDToken: "X", AccessToken: "Y"})
				s.UpdatePreviousRouteState(json.RawMessage(`{"tab":"open"}`))
				return nil
			})
			require.NoError(t, err)

			s, err = store.Get(ctx, "b1")
			require.NoError(t, err)
			require.Equal(t, "X", s.IDToken)
			require.JSONEq(t, `{"tab":"open"}`, string(s.PreviousRouteState))

			// Mutating a returned copy does not reach the store.
			s.IDToken = "changed"
			s, err = store.Get(ctx, "b1")
			require.NoError(t, err)
			require.Equal(t, "X", s.IDToken)

			_, ok, err := store.GetItem(ctx, "b1", session.CodeVerifierKey)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, store.SetItem(ctx, "b1", session.CodeVerifierKey, "v1"))
			require.NoError(t, store.SetItem(ctx, "b1", session.CodeVerifierKey, "v2"))
			v, ok, err := store.GetItem(ctx, "b1", session.CodeVerifierKey)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "v2", v)

			_, ok, err = store.GetItem(ctx, "b2", session.CodeVerifierKey)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, store.Delete(ctx, "b1"))
			s, err = store.Get(ctx, "b1")
			require.NoError(t, err)
			require.Equal(t, &session.Session{ID: "b1"}, s)
			_, ok, err = store.GetItem(ctx, "b1", session.CodeVerifierKey)
			require.NoError(t, err)
			require.False(t, ok)

			_, err = store.Get(ctx, "")
			require.ErrorIs(t, err, session.ErrNoSessionID)
		})
	}
}

func TestStore_UpdateErrorLeavesSessionUnchanged(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Update(ctx, "b1", func(s *session.Session) error {
				s.UpdateSourceRoute("/a")
				return nil
			}))

			err := store.Update(ctx, "b1", func(s *session.Session) error {
				s.UpdateSourceRoute("/b")
				return context.Canceled
			})
			require.ErrorIs(t, err, context.Canceled)

			s, err := store.Get(ctx, "b1")
			require.NoError(t, err)
			require.Equal(t, "/a", s.SourceRoute)
		})
	}
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := store.Update(ctx, "b1", func(s *session.Session) error {
						s.UpdateSourceRoute(s.SourceRoute + "x")
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			s, err := store.Get(ctx, "b1")
			require.NoError(t, err)
			require.Len(t, s.SourceRoute, 20)
		})
	}
}

func TestLogOut(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Update(ctx, "b1", func(s *session.Session) error {
				s.UpdateAuthTokens(&session.TokenData{IDToken: "X", AccessToken: "Y"})
				s.UpdateUserDetails(&session.UserDetails{Email: "ada@example.com"})
				s.UpdateSourceRoute("/a")
				s.UpdateDestinationRoute("/b")
				return nil
			}))
			require.NoError(t, store.SetItem(ctx, "b1", session.CodeVerifierKey, "v"))
			require.NoError(t, store.SetItem(ctx, "b1", session.NotificationsKey, "[]"))

			require.NoError(t, session.LogOut(ctx, store, "b1"))
			require.NoError(t, session.LogOut(ctx, store, "b1"))

			s, err := store.Get(ctx, "b1")
			require.NoError(t, err)
			require.Equal(t, &session.Session{ID: "b1"}, s)

			_, ok, err := store.GetItem(ctx, "b1", session.CodeVerifierKey)
			require.NoError(t, err)
			require.False(t, ok)

			// Pending notifications survive so the login page can show them.
			_, ok, err = store.GetItem(ctx, "b1", session.NotificationsKey)
			require.NoError(t, err)
			require.True(t, ok)

			require.ErrorIs(t, session.LogOut(ctx, store, ""), session.ErrNoSessionID)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := session.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, "b1", func(s *session.Session) error {
		s.UpdateAuthTokens(&session.TokenData{IDToken: "X", AccessToken: "Y"})
		s.UpdateDestinationRoute("/rulepacks")
		return nil
	}))
	require.NoError(t, store.SetItem(ctx, "b1", session.CodeVerifierKey, "v"))
	require.NoError(t, store.Close())

	store, err = session.NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	s, err := store.Get(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "X", s.IDToken)
	require.Equal(t, "/rulepacks", s.DestinationRoute)

	v, ok, err := store.GetItem(ctx, "b1", session.CodeVerifierKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestSQLiteStore_Prune(t *testing.T) {
	store, err := session.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, "b1", func(s *session.Session) error { return nil }))
	require.NoError(t, store.SetItem(ctx, "b1", session.CodeVerifierKey, "v"))

	n, err := store.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = store.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, ok, err := store.GetItem(ctx, "b1", session.CodeVerifierKey)
	require.NoError(t, err)
	require.False(t, ok)
}
