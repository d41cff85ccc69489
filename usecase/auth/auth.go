package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/riseandspeak/backend/domain"
	"github.com/riseandspeak/backend/repository"
)

// Config carries token and hashing settings for the auth use case.
type Config struct {
	JWTSecret  string
	JWTIssuer  string
	TokenTTL   time.Duration
	ResetTTL   time.Duration
	BcryptCost int
}

type UseCase struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	resets   repository.PasswordResetRepository
	cfg      Config
	logger   *zap.Logger

	// compared against on unknown emails so lookups cost the same either way
	dummyHash []byte
}

func New(users repository.UserRepository, sessions repository.SessionRepository, resets repository.PasswordResetRepository, cfg Config, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cfg.BcryptCost)
	return &UseCase{
		users:     users,
		sessions:  sessions,
		resets:    resets,
		cfg:       cfg,
		logger:    logger,
		dummyHash: dummy,
	}
}

// SignIn verifies credentials and issues a fresh session token.
func (uc *UseCase) SignIn(ctx context.Context, email, password string) (*domain.User, string, error) {
	if email == "" || password == "" {
		return nil, "", domain.ErrInvalidPayload
	}

	user, err := uc.users.GetByEmail(ctx, email)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrCodeNotFound) {
			_ = bcrypt.CompareHashAndPassword(uc.dummyHash, []byte(password))
			return nil, "", domain.ErrAuthenticationFailed
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", domain.ErrAuthenticationFailed
	}

	user.TouchLogin(time.Now())
	if err := uc.users.Update(ctx, user); err != nil {
		uc.logger.Warn("failed to record last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	token, err := uc.openSession(ctx, user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// SignUp registers a new account and signs it in.
func (uc *UseCase) SignUp(ctx context.Context, email, password, name string) (*domain.User, string, error) {
	if email == "" || password == "" || name == "" {
		return nil, "", domain.ErrInvalidPayload
	}

	if _, err := uc.users.GetByEmail(ctx, email); err == nil {
		return nil, "", domain.ErrAccountAlreadyExists
	} else if !domain.IsDomainError(err, domain.ErrCodeNotFound) {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), uc.cfg.BcryptCost)
	if err != nil {
		return nil, "", err
	}

	user := domain.NewUser(email, name)
	user.PasswordHash = string(hash)
	user.TouchLogin(time.Now())

	if err := uc.users.Create(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := uc.openSession(ctx, user)
	if err != nil {
		return nil, "", err
	}

	uc.logger.Info("account created", zap.String("user_id", user.ID))
	return user, token, nil
}

// SignOut revokes the session. Revoking an unknown session is a no-op.
func (uc *UseCase) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return uc.sessions.Delete(ctx, sessionID)
}

// Refresh re-validates the session and returns the authoritative user record.
func (uc *UseCase) Refresh(ctx context.Context, sessionID string) (*domain.User, error) {
	session, err := uc.sessions.Get(ctx, sessionID)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrCodeNotFound) {
			return nil, domain.ErrNotAuthenticated
		}
		return nil, err
	}
	if session.IsExpired(time.Now()) {
		_ = uc.sessions.Delete(ctx, sessionID)
		return nil, domain.ErrNotAuthenticated
	}
	return uc.users.GetByID(ctx, session.UserID)
}

// ResetPassword initiates a reset flow. The outcome is identical whether or
// not the email is registered, so callers cannot probe for accounts.
func (uc *UseCase) ResetPassword(ctx context.Context, email string) error {
	if email == "" {
		return domain.ErrInvalidPayload
	}

	token := uuid.NewString()
	if _, err := uc.users.GetByEmail(ctx, email); err != nil {
		if !domain.IsDomainError(err, domain.ErrCodeNotFound) {
			return err
		}
		// unknown address: burn the same work, store nothing
		_ = bcrypt.CompareHashAndPassword(uc.dummyHash, []byte(token))
		return nil
	}

	if err := uc.resets.Save(ctx, token, email, uc.cfg.ResetTTL); err != nil {
		return err
	}
	uc.logger.Info("password reset requested", zap.String("email", email))
	return nil
}

// DeleteAccount removes the user record and revokes all of its sessions.
func (uc *UseCase) DeleteAccount(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrNotAuthenticated
	}
	if err := uc.users.Delete(ctx, userID); err != nil {
		return err
	}
	if err := uc.sessions.DeleteByUser(ctx, userID); err != nil {
		uc.logger.Warn("failed to revoke sessions for deleted account", zap.String("user_id", userID), zap.Error(err))
	}
	uc.logger.Info("account deleted", zap.String("user_id", userID))
	return nil
}

func (uc *UseCase) openSession(ctx context.Context, user *domain.User) (string, error) {
	now := time.Now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(uc.cfg.TokenTTL),
	}
	if err := uc.sessions.Save(ctx, session); err != nil {
		return "", err
	}
	return uc.signToken(user.ID, session.ID, now)
}

func (uc *UseCase) signToken(userID, sessionID string, issuedAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        sessionID,
		Issuer:    uc.cfg.JWTIssuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(uc.cfg.TokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(uc.cfg.JWTSecret))
}
