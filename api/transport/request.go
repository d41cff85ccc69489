package transport

import "github.com/riseandspeak/backend/domain"

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type ResetPasswordRequest struct {
	Email string `json:"email"`
}

// ProfileUpdateRequest carries the partial-update payload; absent fields are
// left untouched on the stored record.
type ProfileUpdateRequest = domain.ProfileUpdate
