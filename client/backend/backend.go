// Package backend defines the remote collaborator of the session manager.
// The HTTP implementation talks to the auth service; Local is a complete
// in-process implementation used by tests and demos.
package backend

import (
	"context"

	"github.com/riseandspeak/backend/domain"
)

// Backend mirrors the auth service endpoint set. Implementations return the
// domain error taxonomy: ErrAuthenticationFailed, ErrAccountAlreadyExists,
// ErrNotAuthenticated, ErrRemoteUnavailable.
type Backend interface {
	SignIn(ctx context.Context, email, password string) (*domain.User, string, error)
	SignUp(ctx context.Context, email, password, name string) (*domain.User, string, error)
	SignOut(ctx context.Context, token string) error
	Refresh(ctx context.Context, token string) (*domain.User, error)
	UpdateProfile(ctx context.Context, token string, update *domain.ProfileUpdate) (*domain.User, error)
	ResetPassword(ctx context.Context, email string) error
	DeleteAccount(ctx context.Context, token string) error
}
