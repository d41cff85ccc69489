// Package session owns the client-side authenticated-session state: who is
// signed in, whether an operation is in flight, and the persisted copy that
// survives process restarts.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riseandspeak/backend/client/backend"
	"github.com/riseandspeak/backend/client/store"
	"github.com/riseandspeak/backend/domain"
)

// Persisted state layout: presence of one key implies the other.
const (
	KeyToken = "auth_token"
	KeyUser  = "user_data"
)

// State is the snapshot consumers render from.
type State struct {
	User            *domain.User
	IsLoading       bool
	IsAuthenticated bool
}

// Options tune a Manager.
type Options struct {
	// OperationTimeout bounds every backend/storage round trip.
	OperationTimeout time.Duration
	Logger           *zap.Logger
}

// Manager is the single source of truth for the current session. Mutating
// operations are serialized: a second overlapping call fails with
// ErrOperationInProgress. RefreshUser and ResetPassword may run concurrently
// with anything; refresh results apply in completion order and never outlive
// the session they were started under.
type Manager struct {
	backend backend.Backend
	store   store.Store
	logger  *zap.Logger
	timeout time.Duration

	mu          sync.Mutex
	user        *domain.User
	token       string
	loading     bool
	authed      bool
	busy        bool
	epoch       uint64 // bumped whenever the session identity changes
	initialized bool

	subMu   sync.Mutex
	nextSub int
	subs    map[int]func(State)
}

// NewManager wires a Manager to its backend and store. The manager starts in
// the loading state; call Initialize once to restore any persisted session.
func NewManager(b backend.Backend, s store.Store, opts Options) *Manager {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		backend: b,
		store:   s,
		logger:  opts.Logger,
		timeout: opts.OperationTimeout,
		loading: true,
		subs:    make(map[int]func(State)),
	}
}

// State returns the current snapshot. The user record is a copy.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() State {
	return State{
		User:            m.user.Clone(),
		IsLoading:       m.loading,
		IsAuthenticated: m.authed && m.user != nil,
	}
}

// Subscribe registers a callback invoked after every state change. The
// returned function removes the subscription.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) notify() {
	snapshot := m.State()

	m.subMu.Lock()
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// Initialize restores a persisted session, if any. A missing, partial, or
// corrupted session is a normal logged-out start, never an error. The stored
// token is validated against the backend; if the backend is unreachable the
// cached snapshot is trusted until the next successful refresh.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	m.loading = true
	m.mu.Unlock()
	m.notify()

	defer func() {
		m.mu.Lock()
		m.loading = false
		m.mu.Unlock()
		m.notify()
	}()

	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	token, user, err := m.readPersisted(opCtx)
	if err != nil {
		m.logger.Warn("discarding persisted session", zap.Error(err))
		m.clearPersisted(opCtx)
		return nil
	}
	if token == "" {
		return nil
	}

	fresh, err := m.backend.Refresh(opCtx, token)
	switch {
	case err == nil:
		user = fresh
		m.persistUser(opCtx, fresh)
	case domain.IsDomainError(err, domain.ErrCodeUnavailable):
		m.logger.Info("backend unreachable, restoring cached session", zap.String("user_id", user.ID))
	default:
		m.logger.Info("persisted token rejected, signing out", zap.Error(err))
		m.clearPersisted(opCtx)
		return nil
	}

	m.mu.Lock()
	m.user = user
	m.token = token
	m.authed = true
	m.epoch++
	m.mu.Unlock()
	return nil
}

// SignIn authenticates and replaces any previously signed-in session.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*domain.User, error) {
	if email == "" || password == "" {
		return nil, domain.ErrInvalidPayload
	}
	return m.authenticate(ctx, func(opCtx context.Context) (*domain.User, string, error) {
		return m.backend.SignIn(opCtx, email, password)
	})
}

// SignUp creates a brand-new account and signs it in.
func (m *Manager) SignUp(ctx context.Context, email, password, name string) (*domain.User, error) {
	if email == "" || password == "" || name == "" {
		return nil, domain.ErrInvalidPayload
	}
	return m.authenticate(ctx, func(opCtx context.Context) (*domain.User, string, error) {
		return m.backend.SignUp(opCtx, email, password, name)
	})
}

func (m *Manager) authenticate(ctx context.Context, call func(context.Context) (*domain.User, string, error)) (*domain.User, error) {
	if err := m.beginMutation(); err != nil {
		return nil, err
	}
	defer m.endMutation()

	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	user, token, err := call(opCtx)
	if err != nil {
		return nil, err
	}

	if err := m.persistSession(opCtx, token, user); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.user = user
	m.token = token
	m.authed = true
	m.epoch++
	m.mu.Unlock()

	return user.Clone(), nil
}

// SignOut revokes the session remotely (best effort) and clears local state.
// Signing out while signed out is a successful no-op.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.beginMutation(); err != nil {
		return err
	}
	defer m.endMutation()

	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	if token != "" {
		if err := m.backend.SignOut(opCtx, token); err != nil {
			m.logger.Warn("remote sign-out failed, clearing local session anyway", zap.Error(err))
		}
	}

	if err := m.store.Delete(opCtx, KeyToken, KeyUser); err != nil {
		return domain.WrapError(domain.ErrCodeCorrupted, "failed to clear persisted session", err)
	}

	m.mu.Lock()
	m.user = nil
	m.token = ""
	m.authed = false
	m.epoch++
	m.mu.Unlock()
	return nil
}

// UpdateProfile merges the provided fields onto the current user. If the
// session expires while the call is in flight the result is discarded, the
// same way a stale refresh is.
func (m *Manager) UpdateProfile(ctx context.Context, update *domain.ProfileUpdate) (*domain.User, error) {
	m.mu.Lock()
	if !m.authed || m.user == nil {
		m.mu.Unlock()
		return nil, domain.ErrNotAuthenticated
	}
	token := m.token
	prior := m.user.Clone()
	startEpoch := m.epoch
	m.mu.Unlock()

	if err := m.beginMutation(); err != nil {
		return nil, err
	}
	defer m.endMutation()

	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	updated, err := m.backend.UpdateProfile(opCtx, token, update)
	if err != nil {
		return nil, err
	}

	// id and creation time are immutable regardless of what came back
	updated.ID = prior.ID
	updated.CreatedAt = prior.CreatedAt

	m.mu.Lock()
	if m.epoch != startEpoch {
		// session changed while the call was in flight
		m.mu.Unlock()
		return nil, domain.ErrNotAuthenticated
	}
	m.user = updated
	m.mu.Unlock()

	m.persistUser(opCtx, updated)

	return updated.Clone(), nil
}

// ResetPassword initiates a reset flow. It needs no session and touches no
// session state.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	if email == "" {
		return domain.ErrInvalidPayload
	}
	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.backend.ResetPassword(opCtx, email)
}

// RefreshUser re-fetches the authoritative record. It is a no-op when signed
// out, safe to call redundantly and concurrently; when calls race, the one
// that completes last wins. A refresh started before a sign-out or sign-in
// never overwrites the newer session.
func (m *Manager) RefreshUser(ctx context.Context) error {
	m.mu.Lock()
	if !m.authed {
		m.mu.Unlock()
		return nil
	}
	token := m.token
	startEpoch := m.epoch
	m.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	fresh, err := m.backend.Refresh(opCtx, token)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrCodeNotAuthenticated) {
			m.expireSession(opCtx, startEpoch)
			return err
		}
		return err
	}

	m.mu.Lock()
	if m.epoch != startEpoch {
		// session changed while the fetch was in flight
		m.mu.Unlock()
		return nil
	}
	m.user = fresh
	m.mu.Unlock()
	m.notify()

	m.persistUser(opCtx, fresh)
	return nil
}

// DeleteAccount deletes the account remotely, then clears all local state.
// If the backend call fails the session is left untouched.
func (m *Manager) DeleteAccount(ctx context.Context) error {
	m.mu.Lock()
	if !m.authed || m.user == nil {
		m.mu.Unlock()
		return domain.ErrNotAuthenticated
	}
	token := m.token
	m.mu.Unlock()

	if err := m.beginMutation(); err != nil {
		return err
	}
	defer m.endMutation()

	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.backend.DeleteAccount(opCtx, token); err != nil {
		return err
	}

	if err := m.store.Delete(opCtx, KeyToken, KeyUser); err != nil {
		m.logger.Warn("failed to clear persisted session after deletion", zap.Error(err))
	}

	m.mu.Lock()
	m.user = nil
	m.token = ""
	m.authed = false
	m.epoch++
	m.mu.Unlock()
	return nil
}

// expireSession signs out locally after the backend rejected the token,
// unless the session already changed under the caller.
func (m *Manager) expireSession(ctx context.Context, startEpoch uint64) {
	m.mu.Lock()
	if m.epoch != startEpoch {
		m.mu.Unlock()
		return
	}
	m.user = nil
	m.token = ""
	m.authed = false
	m.epoch++
	m.mu.Unlock()
	m.notify()

	if err := m.store.Delete(ctx, KeyToken, KeyUser); err != nil {
		m.logger.Warn("failed to clear persisted session", zap.Error(err))
	}
}

func (m *Manager) beginMutation() error {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return domain.ErrOperationInProgress
	}
	m.busy = true
	m.loading = true
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *Manager) endMutation() {
	m.mu.Lock()
	m.busy = false
	m.loading = false
	m.mu.Unlock()
	m.notify()
}

// readPersisted loads and validates the stored token/snapshot pair. Partial
// or unparseable state is reported as corruption.
func (m *Manager) readPersisted(ctx context.Context) (string, *domain.User, error) {
	tokenBytes, tokenErr := m.store.Get(ctx, KeyToken)
	userBytes, userErr := m.store.Get(ctx, KeyUser)

	tokenMissing := errors.Is(tokenErr, store.ErrNotFound)
	userMissing := errors.Is(userErr, store.ErrNotFound)

	switch {
	case tokenMissing && userMissing:
		return "", nil, nil
	case tokenErr != nil:
		return "", nil, domain.WrapError(domain.ErrCodeCorrupted, "failed to read stored token", tokenErr)
	case userErr != nil:
		return "", nil, domain.WrapError(domain.ErrCodeCorrupted, "token present without user snapshot", userErr)
	}

	var user domain.User
	if err := json.Unmarshal(userBytes, &user); err != nil {
		return "", nil, domain.WrapError(domain.ErrCodeCorrupted, "unparseable user snapshot", err)
	}
	if user.ID == "" {
		return "", nil, domain.ErrStorageCorrupted
	}
	return string(tokenBytes), &user, nil
}

func (m *Manager) persistSession(ctx context.Context, token string, user *domain.User) error {
	snapshot, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, map[string][]byte{
		KeyToken: []byte(token),
		KeyUser:  snapshot,
	})
}

func (m *Manager) persistUser(ctx context.Context, user *domain.User) {
	snapshot, err := json.Marshal(user)
	if err != nil {
		m.logger.Warn("failed to serialize user snapshot", zap.Error(err))
		return
	}
	if err := m.store.Put(ctx, map[string][]byte{KeyUser: snapshot}); err != nil {
		m.logger.Warn("failed to persist user snapshot", zap.Error(err))
	}
}

func (m *Manager) clearPersisted(ctx context.Context) {
	if err := m.store.Delete(ctx, KeyToken, KeyUser); err != nil {
		m.logger.Warn("failed to clear persisted session", zap.Error(err))
	}
}
