package backend

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/riseandspeak/backend/domain"
)

type account struct {
	user         *domain.User
	passwordHash []byte
}

// Local is a complete in-process Backend. Accounts live in memory and tokens
// are opaque random strings. It enforces the same error semantics as the
// remote service, which makes it suitable for tests and offline demos.
type Local struct {
	mu       sync.Mutex
	accounts map[string]*account // keyed by lowercased email
	tokens   map[string]string   // token -> lowercased email
	cost     int
}

func NewLocal() *Local {
	return &Local{
		accounts: make(map[string]*account),
		tokens:   make(map[string]string),
		cost:     bcrypt.MinCost,
	}
}

func (l *Local) SignIn(ctx context.Context, email, password string) (*domain.User, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[normalize(email)]
	if !ok {
		return nil, "", domain.ErrAuthenticationFailed
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return nil, "", domain.ErrAuthenticationFailed
	}

	acc.user.TouchLogin(time.Now())
	return acc.user.Clone(), l.issueToken(email), nil
}

func (l *Local) SignUp(ctx context.Context, email, password, name string) (*domain.User, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := normalize(email)
	if _, ok := l.accounts[key]; ok {
		return nil, "", domain.ErrAccountAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.cost)
	if err != nil {
		return nil, "", err
	}

	user := domain.NewUser(email, name)
	user.TouchLogin(time.Now())
	l.accounts[key] = &account{user: user, passwordHash: hash}

	return user.Clone(), l.issueToken(email), nil
}

func (l *Local) SignOut(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tokens, token)
	return nil
}

func (l *Local) Refresh(ctx context.Context, token string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, err := l.authenticate(token)
	if err != nil {
		return nil, err
	}
	return acc.user.Clone(), nil
}

func (l *Local) UpdateProfile(ctx context.Context, token string, update *domain.ProfileUpdate) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, err := l.authenticate(token)
	if err != nil {
		return nil, err
	}
	update.Apply(acc.user)
	return acc.user.Clone(), nil
}

// ResetPassword succeeds whether or not the address is known.
func (l *Local) ResetPassword(ctx context.Context, email string) error {
	return ctx.Err()
}

func (l *Local) DeleteAccount(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	email, ok := l.tokens[token]
	if !ok {
		return domain.ErrNotAuthenticated
	}
	delete(l.accounts, email)
	for t, e := range l.tokens {
		if e == email {
			delete(l.tokens, t)
		}
	}
	return nil
}

// issueToken must be called with the mutex held.
func (l *Local) issueToken(email string) string {
	token := uuid.NewString()
	l.tokens[token] = normalize(email)
	return token
}

// authenticate must be called with the mutex held.
func (l *Local) authenticate(token string) (*account, error) {
	email, ok := l.tokens[token]
	if !ok {
		return nil, domain.ErrNotAuthenticated
	}
	acc, ok := l.accounts[email]
	if !ok {
		return nil, domain.ErrNotAuthenticated
	}
	return acc, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ Backend = (*Local)(nil)
