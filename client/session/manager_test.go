package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riseandspeak/backend/client/backend"
	"github.com/riseandspeak/backend/client/store"
	"github.com/riseandspeak/backend/domain"
)

// stubBackend lets tests script individual backend calls. Unset calls fail
// as unreachable.
type stubBackend struct {
	signIn  func(ctx context.Context, email, password string) (*domain.User, string, error)
	signOut func(ctx context.Context, token string) error
	refresh func(ctx context.Context, token string) (*domain.User, error)
	update  func(ctx context.Context, token string, update *domain.ProfileUpdate) (*domain.User, error)
}

func (s *stubBackend) SignIn(ctx context.Context, email, password string) (*domain.User, string, error) {
	if s.signIn == nil {
		return nil, "", domain.ErrRemoteUnavailable
	}
	return s.signIn(ctx, email, password)
}

func (s *stubBackend) SignUp(ctx context.Context, email, password, name string) (*domain.User, string, error) {
	return nil, "", domain.ErrRemoteUnavailable
}

func (s *stubBackend) SignOut(ctx context.Context, token string) error {
	if s.signOut == nil {
		return domain.ErrRemoteUnavailable
	}
	return s.signOut(ctx, token)
}

func (s *stubBackend) Refresh(ctx context.Context, token string) (*domain.User, error) {
	if s.refresh == nil {
		return nil, domain.ErrRemoteUnavailable
	}
	return s.refresh(ctx, token)
}

func (s *stubBackend) UpdateProfile(ctx context.Context, token string, update *domain.ProfileUpdate) (*domain.User, error) {
	if s.update == nil {
		return nil, domain.ErrRemoteUnavailable
	}
	return s.update(ctx, token, update)
}

func (s *stubBackend) ResetPassword(ctx context.Context, email string) error { return nil }

func (s *stubBackend) DeleteAccount(ctx context.Context, token string) error {
	return domain.ErrRemoteUnavailable
}

func newTestManager(t *testing.T) (*Manager, *backend.Local, *store.MemoryStore) {
	t.Helper()
	local := backend.NewLocal()
	mem := store.NewMemoryStore()
	return NewManager(local, mem, Options{OperationTimeout: 5 * time.Second}), local, mem
}

func strPtr(s string) *string { return &s }

func TestInitializeFreshInstall(t *testing.T) {
	manager, _, _ := newTestManager(t)

	require.True(t, manager.State().IsLoading)

	require.NoError(t, manager.Initialize(context.Background()))

	state := manager.State()
	require.Nil(t, state.User)
	require.False(t, state.IsAuthenticated)
	require.False(t, state.IsLoading)
}

func TestSignUpDefaults(t *testing.T) {
	manager, _, _ := newTestManager(t)
	require.NoError(t, manager.Initialize(context.Background()))

	user, err := manager.SignUp(context.Background(), "a@b.com", "pw", "Ann")
	require.NoError(t, err)

	require.NotEmpty(t, user.ID)
	require.Equal(t, domain.TierFree, user.Subscription)
	require.False(t, user.IsVerified)
	require.Zero(t, user.Stats.EpisodesListened)
	require.Zero(t, user.Stats.Followers)
	require.Equal(t, "dark", user.Preferences.Theme)
	require.True(t, manager.State().IsAuthenticated)
}

func TestSignInReplacesPreviousSession(t *testing.T) {
	manager, local, _ := newTestManager(t)
	require.NoError(t, manager.Initialize(context.Background()))

	_, _, err := local.SignUp(context.Background(), "first@b.com", "pw1", "First")
	require.NoError(t, err)
	_, err = manager.SignUp(context.Background(), "second@b.com", "pw2", "Second")
	require.NoError(t, err)

	user, err := manager.SignIn(context.Background(), "first@b.com", "pw1")
	require.NoError(t, err)
	require.Equal(t, "first@b.com", user.Email)
	require.Equal(t, "first@b.com", manager.State().User.Email)
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	manager, _, _ := newTestManager(t)
	require.NoError(t, manager.Initialize(context.Background()))

	_, err := manager.SignIn(context.Background(), "nobody@b.com", "pw")
	require.ErrorIs(t, err, domain.ErrAuthenticationFailed)

	state := manager.State()
	require.False(t, state.IsAuthenticated)
	require.False(t, state.IsLoading)
}

func TestSignInRequiresCredentials(t *testing.T) {
	manager, _, _ := newTestManager(t)
	_, err := manager.SignIn(context.Background(), "", "pw")
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
	_, err = manager.SignIn(context.Background(), "a@b.com", "")
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestSessionSurvivesRestart(t *testing.T) {
	first, local, mem := newTestManager(t)
	require.NoError(t, first.Initialize(context.Background()))

	created, err := first.SignUp(context.Background(), "a@b.com", "pw", "Ann")
	require.NoError(t, err)

	// a fresh manager over the same store simulates a process restart
	second := NewManager(local, mem, Options{OperationTimeout: 5 * time.Second})
	require.NoError(t, second.Initialize(context.Background()))

	state := second.State()
	require.True(t, state.IsAuthenticated)
	require.Equal(t, created.ID, state.User.ID)
	require.Equal(t, "a@b.com", state.User.Email)
}

func TestInitializeOfflineTrustsSnapshot(t *testing.T) {
	first, _, mem := newTestManager(t)
	require.NoError(t, first.Initialize(context.Background()))
	_, err := first.SignUp(context.Background(), "a@b.com", "pw", "Ann")
	require.NoError(t, err)

	offline := &stubBackend{} // every call is unreachable
	second := NewManager(offline, mem, Options{OperationTimeout: time.Second})
	require.NoError(t, second.Initialize(context.Background()))

	state := second.State()
	require.True(t, state.IsAuthenticated)
	require.Equal(t, "a@b.com", state.User.Email)
}

func TestInitializeRejectedTokenSignsOut(t *testing.T) {
	first, _, mem := newTestManager(t)
	require.NoError(t, first.Initialize(context.Background()))
	_, err := first.SignUp(context.Background(), "a@b.com", "pw", "Ann")
	require.NoError(t, err)

	rejecting := &stubBackend{
		refresh: func(ctx context.Context, token string) (*domain.User, error) {
			return nil, domain.ErrNotAuthenticated
		},
	}
	second := NewManager(rejecting, mem, Options{OperationTimeout: time.Second})
	require.NoError(t, second.Initialize(context.Background()))

	require.False(t, second.State().IsAuthenticated)
	_, err = mem.Get(context.Background(), KeyToken)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestInitializeCorruptedSnapshot(t *testing.T) {
	mem := store.NewMemoryStore()
	require.NoError(t, mem.Put(context.Background(), map[string][]byte{
		KeyToken: []byte("some-token"),
		KeyUser:  []byte("{not json"),
	}))

	manager := NewManager(backend.NewLocal(), mem, Options{OperationTimeout: time.Second})
	require.NoError(t, manager.Initialize(context.Background()))

	state := manager.State()
	require.False(t, state.IsAuthenticated)
	require.False(t, state.IsLoading)

	_, err := mem.Get(context.Background(), KeyToken)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = mem.Get(context.Background(), KeyUser)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestInitializeTokenWithoutSnapshot(t *testing.T) {
	mem := store.NewMemoryStore()
	require.NoError(t, mem.Put(context.Background(), map[string][]byte{
		KeyToken: []byte("orphan-token"),
	}))

	manager := NewManager(backend.NewLocal(), mem, Options{OperationTimeout: time.Second})
	require.NoError(t, manager.Initialize(context.Background()))
	require.False(t, manager.State().IsAuthenticated)

	_, err := mem.Get(context.Background(), KeyToken)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestInitializeRunsOnce(t *testing.T) {
	manager, _, _ := newTestManager(t)
	require.NoError(t, manager.Initialize(context.Background()))
	_, err := manager.SignUp(context.Background(), "a@b.com", "pw", "Ann")
	require.NoError(t, err)

	// a second call must not reload or clobber the live session
	require.NoError(t, manager.Initialize(context.Background()))
	require.True(t, manager.State().IsAuthenticated)
}

func TestSignOutIdempotent(t *testing.T) {
	manager, _, mem := newTestManager(t)
	require.NoError(t, manager.Initialize(context.Background()))
	_, err := manager.SignUp(context.Background(), "a@b.com", "pw", "Ann")
	require.NoError(t, err)

	require.NoError(t, manager.SignOut(context.Background()))
	require.NoError(t, manager.SignOut(context.Background()))

	state := manager.State()
	require.Nil(t, state.User)
	require.False(t, state.IsAuthenticated)

	_, err = mem.Get(context.Background(), KeyToken)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = mem.Get(context.Background(), KeyUser)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateProfileRequiresSession(t *testing.T) {
	manager, _, _ := newTestManager(t)
	require.NoError(t, manager.Initialize(context.Background()))

	_, err := manager.UpdateProfile(context.Background(), &domain.ProfileUpdate{Name: strPtr("Annie")})
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestUpdateProfileMergesFields(t *testing.T) {
	manager, _, _ := newTestManager(t)
	require.NoError(t, manager.Initialize(context.Background()))

	created, err := manager.SignUp(context.Background(), "a@b.com", "pw", "Ann")
	require.NoError(t, err)

	updated, err := manager.UpdateProfile(context.Background(), &domain.ProfileUpdate{Name: strPtr("Annie")})
	require.NoError(t, err)

	require.Equal(t, "Annie", updated.Name)
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, created.CreatedAt, updated.CreatedAt)
	require.Equal(t, created.Email, updated.Email)
	require.Equal(t, created.Preferences, updated.Preferences)
	require.Equal(t, created.Stats, updated.Stats)
	require.Equal(t, "Annie", manager.State().User.Name)
}

func TestUpdateProfileAfterSignOut(t *testing.T) {
	manager, _, _ := newTestManager(t)
	require.NoError(t, manager.Initialize(context.Background()))
	_, err := manager.SignUp(context.Background(), "a@b.com", "pw", "Ann")
	require.NoError(t, err)
	require.NoError(t, manager.SignOut(context.Background()))

	_, err = manager.UpdateProfile(context.Background(), &domain.ProfileUpdate{Name: strPtr("Annie")})
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestResetPasswordLeavesSessionAlone(t *testing.T) {
	manager, _, _ := newTestManager(t)
	require.NoError(t, manager.Initialize(context.Background()))
	_, err := manager.SignUp(context.Background(), "a@b.com", "pw", "Ann")
	require.NoError(t, err)

	require.NoError(t, manager.ResetPassword(context.Background(), "somebody@else.com"))

	state := manager.State()
	require.True(t, state.IsAuthenticated)
	require.Equal(t, "a@b.com", state.User.Email)
}

func TestRefreshUserNoopWhenSignedOut(t *testing.T) {
	// the stub would fail any real call, so a nil error proves no call happened
	manager := NewManager(&stubBackend{}, store.NewMemoryStore(), Options{OperationTimeout: time.Second})
	require.NoError(t, manager.RefreshUser(context.Background()))
}

func TestRefreshUserLastCompletedWins(t *testing.T) {
	userA := domain.NewUser("a@b.com", "ResolvedLast")
	userB := userA.Clone()
	userB.Name = "ResolvedFirst"

	releaseFirst := make(chan struct{})
	releaseSecond := make(chan struct{})
	var calls int32

	stub := &stubBackend{
		signIn: func(ctx context.Context, email, password string) (*domain.User, string, error) {
			return userA.Clone(), "token", nil
		},
		refresh: func(ctx context.Context, token string) (*domain.User, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				<-releaseFirst
				return userA.Clone(), nil
			}
			<-releaseSecond
			return userB.Clone(), nil
		},
	}

	manager := NewManager(stub, store.NewMemoryStore(), Options{OperationTimeout: 5 * time.Second})
	_, err := manager.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = manager.RefreshUser(context.Background())
	}()
	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 1 })
	go func() {
		defer wg.Done()
		_ = manager.RefreshUser(context.Background())
	}()
	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 2 })

	// the refresh that was started second resolves first ...
	close(releaseSecond)
	waitFor(t, func() bool { return manager.State().User.Name == "ResolvedFirst" })

	// ... and the first one resolves last, so its result stands
	close(releaseFirst)
	wg.Wait()
	require.Equal(t, "ResolvedLast", manager.State().User.Name)
}

func TestRefreshDoesNotResurrectSignedOutSession(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once

	stub := &stubBackend{
		signIn: func(ctx context.Context, email, password string) (*domain.User, string, error) {
			return domain.NewUser("a@b.com", "Ann"), "token", nil
		},
		signOut: func(ctx context.Context, token string) error { return nil },
		refresh: func(ctx context.Context, token string) (*domain.User, error) {
			once.Do(func() { close(entered) })
			<-release
			return domain.NewUser("a@b.com", "Ann"), nil
		},
	}

	manager := NewManager(stub, store.NewMemoryStore(), Options{OperationTimeout: 5 * time.Second})
	_, err := manager.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = manager.RefreshUser(context.Background())
	}()
	<-entered

	require.NoError(t, manager.SignOut(context.Background()))

	close(release)
	<-done

	state := manager.State()
	require.False(t, state.IsAuthenticated)
	require.Nil(t, state.User)
}

func TestUpdateProfileDiscardedAfterSessionExpires(t *testing.T) {
	user := domain.NewUser("a@b.com", "Ann")
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	stub := &stubBackend{
		signIn: func(ctx context.Context, email, password string) (*domain.User, string, error) {
			return user.Clone(), "token", nil
		},
		refresh: func(ctx context.Context, token string) (*domain.User, error) {
			return nil, domain.ErrNotAuthenticated
		},
		update: func(ctx context.Context, token string, update *domain.ProfileUpdate) (*domain.User, error) {
			once.Do(func() { close(entered) })
			<-release
			cp := user.Clone()
			cp.Name = "Stale"
			return cp, nil
		},
	}

	mem := store.NewMemoryStore()
	manager := NewManager(stub, mem, Options{OperationTimeout: 5 * time.Second})
	_, err := manager.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := manager.UpdateProfile(context.Background(), &domain.ProfileUpdate{Name: strPtr("Stale")})
		errCh <- err
	}()
	<-entered

	// the backend rejects the token while the update is in flight
	require.ErrorIs(t, manager.RefreshUser(context.Background()), domain.ErrNotAuthenticated)
	require.False(t, manager.State().IsAuthenticated)

	close(release)
	require.ErrorIs(t, <-errCh, domain.ErrNotAuthenticated)

	state := manager.State()
	require.False(t, state.IsAuthenticated)
	require.Nil(t, state.User)

	_, err = mem.Get(context.Background(), KeyUser)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = mem.Get(context.Background(), KeyToken)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestOverlappingMutationsRejected(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once

	stub := &stubBackend{
		signIn: func(ctx context.Context, email, password string) (*domain.User, string, error) {
			once.Do(func() { close(entered) })
			<-release
			return domain.NewUser(email, "Ann"), "token", nil
		},
	}

	manager := NewManager(stub, store.NewMemoryStore(), Options{OperationTimeout: 5 * time.Second})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = manager.SignIn(context.Background(), "a@b.com", "pw")
	}()
	<-entered

	_, err := manager.SignIn(context.Background(), "b@c.com", "pw")
	require.ErrorIs(t, err, domain.ErrOperationInProgress)

	close(release)
	<-done
	require.Equal(t, "a@b.com", manager.State().User.Email)
}

func TestDeleteAccountClearsEverything(t *testing.T) {
	manager, local, mem := newTestManager(t)
	require.NoError(t, manager.Initialize(context.Background()))
	_, err := manager.SignUp(context.Background(), "a@b.com", "pw", "Ann")
	require.NoError(t, err)

	require.NoError(t, manager.DeleteAccount(context.Background()))

	require.False(t, manager.State().IsAuthenticated)
	_, err = mem.Get(context.Background(), KeyUser)
	require.ErrorIs(t, err, store.ErrNotFound)

	// the account is gone remotely too
	_, _, err = local.SignIn(context.Background(), "a@b.com", "pw")
	require.ErrorIs(t, err, domain.ErrAuthenticationFailed)
}

func TestDeleteAccountKeepsSessionOnRemoteFailure(t *testing.T) {
	stub := &stubBackend{
		signIn: func(ctx context.Context, email, password string) (*domain.User, string, error) {
			return domain.NewUser(email, "Ann"), "token", nil
		},
	}
	manager := NewManager(stub, store.NewMemoryStore(), Options{OperationTimeout: time.Second})
	_, err := manager.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)

	err = manager.DeleteAccount(context.Background())
	require.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	require.True(t, manager.State().IsAuthenticated)
}

func TestSubscribersSeeTransitions(t *testing.T) {
	manager, _, _ := newTestManager(t)
	require.NoError(t, manager.Initialize(context.Background()))

	var mu sync.Mutex
	var states []State
	unsubscribe := manager.Subscribe(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	defer unsubscribe()

	_, err := manager.SignUp(context.Background(), "a@b.com", "pw", "Ann")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	sawLoading := false
	for _, s := range states {
		if s.IsLoading {
			sawLoading = true
		}
		if s.IsAuthenticated {
			require.NotNil(t, s.User)
		}
	}
	require.True(t, sawLoading)
	last := states[len(states)-1]
	require.True(t, last.IsAuthenticated)
	require.Equal(t, "a@b.com", last.User.Email)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
